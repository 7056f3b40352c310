package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cartworks/api/internal/repositories"
)

const (
	orderNumberPrefix     = "ORD"
	testOrderNumberPrefix = "TEST"

	defaultSequenceProbeLimit = 100
)

// SequenceGeneratorDeps bundles collaborators required to construct the sequence generator.
type SequenceGeneratorDeps struct {
	Counters    repositories.CounterRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	ProbeLimit  int
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type sequenceGenerator struct {
	counters   repositories.CounterRepository
	orders     repositories.OrderRepository
	clock      func() time.Time
	newID      func() string
	probeLimit int
	logger     func(context.Context, string, map[string]any)
}

// NewSequenceGenerator wires dependencies into a concrete SequenceGenerator implementation.
func NewSequenceGenerator(deps SequenceGeneratorDeps) (SequenceGenerator, error) {
	if deps.Counters == nil {
		return nil, errors.New("sequence generator: counter repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("sequence generator: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	probeLimit := deps.ProbeLimit
	if probeLimit <= 0 {
		probeLimit = defaultSequenceProbeLimit
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &sequenceGenerator{
		counters: deps.Counters,
		orders:   deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		probeLimit: probeLimit,
		logger:     logger,
	}, nil
}

// Generate issues the next {PREFIX}-{YYYYMMDD}-{seq} order number. The per-day
// counter serializes concurrent issuance; the existence probe catches counter
// documents that drifted behind persisted orders. When neither produces a
// provably unique value the ULID fallback is used, so a sale is never blocked
// on numbering.
func (s *sequenceGenerator) Generate(ctx context.Context, isTest bool) string {
	now := s.clock()
	day := now.Format("20060102")
	prefix := orderNumberPrefix
	if isTest {
		prefix = testOrderNumberPrefix
	}

	seq, err := s.counters.Next(ctx, "orders:"+day, 1)
	if err != nil {
		s.logger(ctx, "sequence.counter.failed", map[string]any{
			"day":   day,
			"error": err.Error(),
		})
		return s.fallback(ctx, prefix, day)
	}

	for attempt := 0; attempt < s.probeLimit; attempt++ {
		candidate := fmt.Sprintf("%s-%s-%06d", prefix, day, seq)
		exists, err := s.orders.ExistsByNumber(ctx, candidate)
		if err != nil {
			s.logger(ctx, "sequence.probe.failed", map[string]any{
				"candidate": candidate,
				"error":     err.Error(),
			})
			return s.fallback(ctx, prefix, day)
		}
		if !exists {
			return candidate
		}
		seq++
	}

	s.logger(ctx, "sequence.probe.exhausted", map[string]any{
		"day":    day,
		"budget": s.probeLimit,
	})
	return s.fallback(ctx, prefix, day)
}

func (s *sequenceGenerator) fallback(ctx context.Context, prefix, day string) string {
	number := fmt.Sprintf("%s-%s-%s", prefix, day, s.newID())
	s.logger(ctx, "sequence.fallback.issued", map[string]any{
		"orderNumber": number,
	})
	return number
}
