package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/cartworks/api/internal/domain"
	"github.com/cartworks/api/internal/repositories"
)

type stubProductRepo struct {
	findFn    func(context.Context, string) (domain.Product, error)
	applyFn   func(context.Context, []repositories.SaleMutation) error
	reverseFn func(context.Context, []repositories.SaleMutation) error
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) ApplySales(ctx context.Context, mutations []repositories.SaleMutation) error {
	if s.applyFn != nil {
		return s.applyFn(ctx, mutations)
	}
	return nil
}

func (s *stubProductRepo) ReverseSales(ctx context.Context, mutations []repositories.SaleMutation) error {
	if s.reverseFn != nil {
		return s.reverseFn(ctx, mutations)
	}
	return nil
}

func newTestLedger(t *testing.T, products repositories.ProductRepository) InventoryLedger {
	t.Helper()
	ledger, err := NewInventoryLedger(InventoryLedgerDeps{
		Products: products,
		Clock: func() time.Time {
			return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new inventory ledger: %v", err)
	}
	return ledger
}

func TestInventoryLedgerReserveAggregatesLines(t *testing.T) {
	ctx := context.Background()
	var applied []repositories.SaleMutation
	products := &stubProductRepo{
		applyFn: func(_ context.Context, mutations []repositories.SaleMutation) error {
			applied = mutations
			return nil
		},
	}

	ledger := newTestLedger(t, products)

	err := ledger.Reserve(ctx, []InventoryLine{
		{ProductID: "prod-b", Quantity: 1, UnitPrice: 300},
		{ProductID: "prod-a", Quantity: 2, UnitPrice: 500},
		{ProductID: "prod-a", Quantity: 1, UnitPrice: 500},
	}, false)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if len(applied) != 2 {
		t.Fatalf("expected 2 aggregated mutations, got %d", len(applied))
	}
	if applied[0].ProductID != "prod-a" || applied[1].ProductID != "prod-b" {
		t.Fatalf("expected sorted product order, got %s %s", applied[0].ProductID, applied[1].ProductID)
	}
	if applied[0].Quantity != 3 || applied[0].Revenue != 1500 {
		t.Fatalf("unexpected aggregation %+v", applied[0])
	}
	if !applied[0].EnforceStock {
		t.Fatalf("expected stock enforcement for non-test order")
	}
}

func TestInventoryLedgerReserveSkipsEnforcementForTestOrders(t *testing.T) {
	ctx := context.Background()
	var applied []repositories.SaleMutation
	products := &stubProductRepo{
		applyFn: func(_ context.Context, mutations []repositories.SaleMutation) error {
			applied = mutations
			return nil
		},
	}

	ledger := newTestLedger(t, products)

	if err := ledger.Reserve(ctx, []InventoryLine{{ProductID: "prod-1", Quantity: 4, UnitPrice: 100}}, true); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(applied) != 1 || applied[0].EnforceStock {
		t.Fatalf("expected unenforced mutation, got %+v", applied)
	}
}

func TestInventoryLedgerReserveMapsRepositoryErrors(t *testing.T) {
	ctx := context.Background()
	cases := map[string]struct {
		repoErr error
		want    error
	}{
		"insufficient stock": {
			repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "have 1, want 3", nil),
			ErrInsufficientStock,
		},
		"product not found": {
			repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "product gone", nil),
			ErrProductUnavailable,
		},
		"product inactive": {
			repositories.NewInventoryError(repositories.InventoryErrorProductInactive, "product disabled", nil),
			ErrProductUnavailable,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			products := &stubProductRepo{
				applyFn: func(context.Context, []repositories.SaleMutation) error {
					return tc.repoErr
				},
			}
			ledger := newTestLedger(t, products)
			err := ledger.Reserve(ctx, []InventoryLine{{ProductID: "prod-1", Quantity: 1, UnitPrice: 100}}, false)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInventoryLedgerReserveRejectsInvalidLines(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t, &stubProductRepo{})

	cases := map[string][]InventoryLine{
		"empty set":         {},
		"missing product":   {{ProductID: " ", Quantity: 1, UnitPrice: 100}},
		"zero quantity":     {{ProductID: "prod-1", Quantity: 0, UnitPrice: 100}},
		"negative quantity": {{ProductID: "prod-1", Quantity: -2, UnitPrice: 100}},
		"negative price":    {{ProductID: "prod-1", Quantity: 1, UnitPrice: -50}},
	}

	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			if err := ledger.Reserve(ctx, lines, false); !errors.Is(err, ErrInventoryInvalidInput) {
				t.Fatalf("expected invalid input error, got %v", err)
			}
		})
	}
}

func TestInventoryLedgerRestoreReversesSales(t *testing.T) {
	ctx := context.Background()
	var reversed []repositories.SaleMutation
	products := &stubProductRepo{
		reverseFn: func(_ context.Context, mutations []repositories.SaleMutation) error {
			reversed = mutations
			return nil
		},
	}

	ledger := newTestLedger(t, products)

	if err := ledger.Restore(ctx, []InventoryLine{{ProductID: "prod-1", Quantity: 2, UnitPrice: 750}}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(reversed) != 1 {
		t.Fatalf("expected 1 mutation, got %d", len(reversed))
	}
	if reversed[0].Quantity != 2 || reversed[0].Revenue != 1500 {
		t.Fatalf("unexpected mutation %+v", reversed[0])
	}
	if reversed[0].EnforceStock {
		t.Fatalf("restore must never enforce stock")
	}
}
