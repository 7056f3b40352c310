package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cartworks/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrProductUnavailable indicates a referenced product is missing or inactive.
	ErrProductUnavailable = errors.New("inventory: product unavailable")
	// ErrInsufficientStock indicates the requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// InventoryLedgerDeps bundles the collaborators required to construct the inventory ledger.
type InventoryLedgerDeps struct {
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type inventoryLedger struct {
	products   repositories.ProductRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewInventoryLedger wires dependencies into a concrete InventoryLedger implementation.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory ledger: product repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryLedger{
		products:   deps.Products,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *inventoryLedger) Reserve(ctx context.Context, lines []InventoryLine, isTest bool) error {
	mutations, err := s.buildMutations(lines, !isTest)
	if err != nil {
		return err
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		return s.products.ApplySales(txCtx, mutations)
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "inventory.reserve", map[string]any{
		"products": len(mutations),
		"isTest":   isTest,
	})
	return nil
}

func (s *inventoryLedger) Restore(ctx context.Context, lines []InventoryLine) error {
	mutations, err := s.buildMutations(lines, false)
	if err != nil {
		return err
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		return s.products.ReverseSales(txCtx, mutations)
	})
	if err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, "inventory.restore", map[string]any{
		"products": len(mutations),
	})
	return nil
}

// buildMutations validates and aggregates lines per product so one order never
// issues two mutations against the same document in a single transaction.
func (s *inventoryLedger) buildMutations(lines []InventoryLine, enforceStock bool) ([]repositories.SaleMutation, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	now := s.clock()
	aggregated := make(map[string]*repositories.SaleMutation)
	order := make([]string, 0, len(lines))

	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for product %s must be positive", ErrInventoryInvalidInput, productID)
		}
		if line.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: unit price for product %s must not be negative", ErrInventoryInvalidInput, productID)
		}

		mutation, ok := aggregated[productID]
		if !ok {
			mutation = &repositories.SaleMutation{
				ProductID:    productID,
				EnforceStock: enforceStock,
				Now:          now,
			}
			aggregated[productID] = mutation
			order = append(order, productID)
		}
		mutation.Quantity += line.Quantity
		mutation.Revenue += line.UnitPrice * int64(line.Quantity)
	}

	sort.Strings(order)
	mutations := make([]repositories.SaleMutation, 0, len(order))
	for _, productID := range order {
		mutations = append(mutations, *aggregated[productID])
	}
	return mutations, nil
}

func (s *inventoryLedger) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, invErr.Message)
		case repositories.InventoryErrorProductNotFound, repositories.InventoryErrorProductInactive:
			return fmt.Errorf("%w: %s", ErrProductUnavailable, invErr.Message)
		}
	}

	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
