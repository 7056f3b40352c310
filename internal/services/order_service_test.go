package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/cartworks/api/internal/domain"
	"github.com/cartworks/api/internal/repositories"
)

type stubLedger struct {
	reserveFn func(context.Context, []InventoryLine, bool) error
	restoreFn func(context.Context, []InventoryLine) error
}

func (s *stubLedger) Reserve(ctx context.Context, lines []InventoryLine, isTest bool) error {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, lines, isTest)
	}
	return nil
}

func (s *stubLedger) Restore(ctx context.Context, lines []InventoryLine) error {
	if s.restoreFn != nil {
		return s.restoreFn(ctx, lines)
	}
	return nil
}

type stubSequence struct {
	generateFn func(context.Context, bool) string
}

func (s *stubSequence) Generate(ctx context.Context, isTest bool) string {
	if s.generateFn != nil {
		return s.generateFn(ctx, isTest)
	}
	return "ORD-20250601-000001"
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type stubUnitOfWork struct {
	runs int
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	s.runs++
	return fn(ctx)
}

func activeProduct(id string, price int64) domain.Product {
	return domain.Product{
		ID:             id,
		Name:           "Product " + id,
		Price:          price,
		StockQuantity:  10,
		TrackInventory: true,
		IsActive:       true,
		Images:         []string{"https://img.example.com/" + id + ".jpg"},
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
		}
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "000TEST" }
	}
	if deps.Sequence == nil {
		deps.Sequence = &stubSequence{}
	}
	if deps.Inventory == nil {
		deps.Inventory = &stubLedger{}
	}
	if deps.Products == nil {
		deps.Products = &stubProductRepo{
			findFn: func(_ context.Context, id string) (domain.Product, error) {
				return activeProduct(id, 500), nil
			},
		}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func shippingAddress() domain.Address {
	return domain.Address{
		Recipient:  "Taro Yamada",
		Line1:      "1-2-3 Chuo",
		City:       "Osaka",
		PostalCode: "530-0001",
		Country:    "JP",
	}
}

func TestOrderServiceCreateOrder(t *testing.T) {
	ctx := context.Background()
	var inserted []domain.Order
	var reservedLines []InventoryLine
	var reservedTest bool
	events := &captureOrderEvents{}
	unit := &stubUnitOfWork{}

	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = append(inserted, order)
			return nil
		},
	}
	ledger := &stubLedger{
		reserveFn: func(_ context.Context, lines []InventoryLine, isTest bool) error {
			reservedLines = lines
			reservedTest = isTest
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:     orders,
		Inventory:  ledger,
		UnitOfWork: unit,
		Events:     events,
	})

	order, err := svc.CreateOrder(ctx, CreateOrderCommand{
		UserID: "user-1",
		Items: []CreateOrderItemInput{
			{ProductID: "prod-1", Quantity: 2, Variant: "red"},
			{ProductID: "prod-2", Quantity: 1},
		},
		ShippingAddress: shippingAddress(),
		Notes:           "leave at the door",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.ID != "ord_000TEST" {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if order.OrderNumber != "ORD-20250601-000001" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected payment status pending, got %s", order.Payment.Status)
	}
	if order.BillingAddress != order.ShippingAddress {
		t.Fatalf("expected billing address to default to shipping address")
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	if item := order.Items[0]; item.Name != "Product prod-1" || item.Price != 500 || item.Image == "" {
		t.Fatalf("expected product snapshot on item, got %+v", item)
	}
	if order.Pricing.Subtotal != 1500 || order.Pricing.Total != 1500 {
		t.Fatalf("unexpected pricing %+v", order.Pricing)
	}
	if order.Notes != "leave at the door" {
		t.Fatalf("unexpected notes %q", order.Notes)
	}

	if len(reservedLines) != 2 || reservedTest {
		t.Fatalf("unexpected reservation lines=%d isTest=%v", len(reservedLines), reservedTest)
	}
	if reservedLines[0].ProductID != "prod-1" || reservedLines[0].Quantity != 2 || reservedLines[0].UnitPrice != 500 {
		t.Fatalf("unexpected reservation line %+v", reservedLines[0])
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted order, got %d", len(inserted))
	}
	if unit.runs != 1 {
		t.Fatalf("expected creation inside one transaction, got %d", unit.runs)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.created" {
		t.Fatalf("expected order.created event, got %+v", events.events)
	}
}

func TestOrderServiceCreateOrderValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestOrderService(t, OrderServiceDeps{})

	base := CreateOrderCommand{
		UserID:          "user-1",
		Items:           []CreateOrderItemInput{{ProductID: "prod-1", Quantity: 1}},
		ShippingAddress: shippingAddress(),
	}

	t.Run("missing user", func(t *testing.T) {
		cmd := base
		cmd.UserID = " "
		if _, err := svc.CreateOrder(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("empty items", func(t *testing.T) {
		cmd := base
		cmd.Items = nil
		if _, err := svc.CreateOrder(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("zero quantity", func(t *testing.T) {
		cmd := base
		cmd.Items = []CreateOrderItemInput{{ProductID: "prod-1", Quantity: 0}}
		if _, err := svc.CreateOrder(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("missing shipping address", func(t *testing.T) {
		cmd := base
		cmd.ShippingAddress = domain.Address{}
		if _, err := svc.CreateOrder(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("unknown payment method", func(t *testing.T) {
		cmd := base
		cmd.Payment = &PaymentInput{Method: "bitcoin"}
		if _, err := svc.CreateOrder(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})
}

func TestOrderServiceCreateOrderBankTransferRequiresTransactionID(t *testing.T) {
	ctx := context.Background()
	reserveCalled := false
	ledger := &stubLedger{
		reserveFn: func(context.Context, []InventoryLine, bool) error {
			reserveCalled = true
			return nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Inventory: ledger})

	_, err := svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:          "user-1",
		Items:           []CreateOrderItemInput{{ProductID: "prod-1", Quantity: 1}},
		ShippingAddress: shippingAddress(),
		Payment:         &PaymentInput{Method: domain.PaymentMethodBankTransfer},
	})
	if !errors.Is(err, ErrMissingTransactionID) {
		t.Fatalf("expected missing transaction id, got %v", err)
	}
	if reserveCalled {
		t.Fatalf("stock must not be reserved when validation fails")
	}
}

func TestOrderServiceCreateOrderInactiveProduct(t *testing.T) {
	ctx := context.Background()
	products := &stubProductRepo{
		findFn: func(_ context.Context, id string) (domain.Product, error) {
			product := activeProduct(id, 500)
			product.IsActive = false
			return product, nil
		},
	}
	inserted := 0
	orders := &stubOrderRepo{
		insertFn: func(context.Context, domain.Order) error {
			inserted++
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Products: products, Orders: orders})

	_, err := svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:          "user-1",
		Items:           []CreateOrderItemInput{{ProductID: "prod-1", Quantity: 1}},
		ShippingAddress: shippingAddress(),
	})
	if !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected product unavailable, got %v", err)
	}
	if inserted != 0 {
		t.Fatalf("order must not be persisted when a product is unavailable")
	}
}

func TestOrderServiceCreateOrderInsufficientStockAbortsInsert(t *testing.T) {
	ctx := context.Background()
	ledger := &stubLedger{
		reserveFn: func(context.Context, []InventoryLine, bool) error {
			return ErrInsufficientStock
		},
	}
	inserted := 0
	orders := &stubOrderRepo{
		insertFn: func(context.Context, domain.Order) error {
			inserted++
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Inventory: ledger, Orders: orders})

	_, err := svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:          "user-1",
		Items:           []CreateOrderItemInput{{ProductID: "prod-1", Quantity: 3}},
		ShippingAddress: shippingAddress(),
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if inserted != 0 {
		t.Fatalf("order must not be persisted when reservation fails")
	}
}

func TestOrderServiceCreateOrderNegativePricingOverride(t *testing.T) {
	ctx := context.Background()
	svc := newTestOrderService(t, OrderServiceDeps{})

	discount := int64(-100)
	_, err := svc.CreateOrder(ctx, CreateOrderCommand{
		UserID:          "user-1",
		Items:           []CreateOrderItemInput{{ProductID: "prod-1", Quantity: 1}},
		ShippingAddress: shippingAddress(),
		Pricing:         &domain.PricingOverride{Discount: &discount},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for negative override, got %v", err)
	}
}

func existingOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:          "ord_existing",
		OrderNumber: "ORD-20250531-000009",
		UserID:      "user-1",
		Status:      status,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", Name: "Product prod-1", Price: 500, Quantity: 2},
			{ProductID: "prod-2", Name: "Product prod-2", Price: 300, Quantity: 1},
		},
		CreatedAt: time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 5, 31, 10, 0, 0, 0, time.UTC),
	}
}

func TestOrderServiceUpdateStatusTransitions(t *testing.T) {
	ctx := context.Background()
	var updated *domain.Order
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return existingOrder(domain.OrderStatusPending), nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = &order
			return nil
		},
	}
	events := &captureOrderEvents{}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Events: events})

	order, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_existing", Status: "confirmed"})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", order.Status)
	}
	if updated == nil || updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected persisted status change")
	}
	if len(events.events) != 1 || events.events[0].Type != "order.status.changed" {
		t.Fatalf("expected status change event, got %+v", events.events)
	}
	if events.events[0].PreviousStatus != "pending" || events.events[0].CurrentStatus != "confirmed" {
		t.Fatalf("unexpected event payload %+v", events.events[0])
	}
}

func TestOrderServiceUpdateStatusRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	updates := 0
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return existingOrder(domain.OrderStatusPending), nil
		},
		updateFn: func(context.Context, domain.Order) error {
			updates++
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_existing", Status: "exploded"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if updates != 0 {
		t.Fatalf("order must remain unchanged on invalid status")
	}
}

func TestOrderServiceUpdateStatusRejectsTerminalTransitions(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return existingOrder(domain.OrderStatusDelivered), nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_existing", Status: "processing"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestOrderServiceUpdateStatusSameStatusIsIdempotent(t *testing.T) {
	ctx := context.Background()
	restores := 0
	ledger := &stubLedger{
		restoreFn: func(context.Context, []InventoryLine) error {
			restores++
			return nil
		},
	}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return existingOrder(domain.OrderStatusProcessing), nil
		},
	}
	events := &captureOrderEvents{}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Inventory: ledger, Events: events})

	order, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_existing", Status: "processing"})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected status %s", order.Status)
	}
	if restores != 0 {
		t.Fatalf("same-status transition must not touch inventory")
	}
	if len(events.events) != 0 {
		t.Fatalf("same-status transition must not publish events, got %+v", events.events)
	}
}

func TestOrderServiceUpdateStatusShippedSetsTimestampOnce(t *testing.T) {
	ctx := context.Background()
	already := time.Date(2025, 5, 31, 18, 0, 0, 0, time.UTC)
	source := existingOrder(domain.OrderStatusProcessing)
	source.Shipping.ShippedAt = &already

	var updated *domain.Order
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return source, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = &order
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	tracking := "TRK-123"
	order, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{
		OrderID:        "ord_existing",
		Status:         "shipped",
		TrackingNumber: &tracking,
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if order.Shipping.ShippedAt == nil || !order.Shipping.ShippedAt.Equal(already) {
		t.Fatalf("shippedAt must not be overwritten, got %v", order.Shipping.ShippedAt)
	}
	if order.Shipping.TrackingNumber != "TRK-123" {
		t.Fatalf("expected tracking number applied, got %q", order.Shipping.TrackingNumber)
	}
	if updated == nil || updated.Status != domain.OrderStatusShipped {
		t.Fatalf("expected persisted shipped status")
	}
}

func TestOrderServiceCancelRestoresStockOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	stored := existingOrder(domain.OrderStatusPending)
	var restored [][]InventoryLine
	ledger := &stubLedger{
		restoreFn: func(_ context.Context, lines []InventoryLine) error {
			restored = append(restored, lines)
			return nil
		},
	}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return stored, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			stored = order
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Inventory: ledger})

	order, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{
		OrderID:      "ord_existing",
		Status:       "cancelled",
		CancelReason: "changed my mind",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.CancelledAt == nil || !order.CancelledAt.Equal(now) {
		t.Fatalf("expected cancelledAt %v, got %v", now, order.CancelledAt)
	}
	if order.CancelReason != "changed my mind" {
		t.Fatalf("unexpected cancel reason %q", order.CancelReason)
	}
	if len(restored) != 1 {
		t.Fatalf("expected exactly one restore, got %d", len(restored))
	}
	if len(restored[0]) != 2 || restored[0][0].Quantity != 2 || restored[0][0].UnitPrice != 500 {
		t.Fatalf("unexpected restore lines %+v", restored[0])
	}

	// A retried cancellation must not credit stock a second time.
	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_existing", Status: "cancelled"}); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if len(restored) != 1 {
		t.Fatalf("restore must run at most once, got %d", len(restored))
	}
}

func TestOrderServiceUpdateStatusNotFound(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, notFoundRepoError{}
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "ord_missing", Status: "confirmed"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceGetOrderOwnership(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return existingOrder(domain.OrderStatusPending), nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	if _, err := svc.GetOrder(ctx, "ord_existing", Requester{UserID: "user-1"}); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.GetOrder(ctx, "ord_existing", Requester{UserID: "user-2"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
	if _, err := svc.GetOrder(ctx, "ord_existing", Requester{UserID: "staff-1", Elevated: true}); err != nil {
		t.Fatalf("elevated read: %v", err)
	}
}

func TestOrderServiceListOrdersScopesToRequester(t *testing.T) {
	ctx := context.Background()
	var captured repositories.OrderListFilter
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
			captured = filter
			return domain.Page[domain.Order]{Total: 3}, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	page, err := svc.ListOrders(ctx, OrderListQuery{
		Requester:  Requester{UserID: "user-1"},
		UserID:     "user-9",
		Pagination: domain.Pagination{Page: 2, PageSize: 10},
	})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if captured.UserID != "user-1" {
		t.Fatalf("non-elevated requester must be scoped to own orders, got %q", captured.UserID)
	}
	if captured.Pagination.Page != 2 || captured.Pagination.PageSize != 10 {
		t.Fatalf("unexpected pagination %+v", captured.Pagination)
	}
	if page.Total != 3 {
		t.Fatalf("unexpected total %d", page.Total)
	}

	if _, err := svc.ListOrders(ctx, OrderListQuery{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("anonymous listing must be forbidden, got %v", err)
	}

	if _, err := svc.ListOrders(ctx, OrderListQuery{
		Requester: Requester{UserID: "staff-1", Elevated: true},
		UserID:    "user-9",
	}); err != nil {
		t.Fatalf("elevated list: %v", err)
	}
	if captured.UserID != "user-9" {
		t.Fatalf("elevated requester filter must be honoured, got %q", captured.UserID)
	}
}

type notFoundRepoError struct{}

func (notFoundRepoError) Error() string       { return "document not found" }
func (notFoundRepoError) IsNotFound() bool    { return true }
func (notFoundRepoError) IsConflict() bool    { return false }
func (notFoundRepoError) IsUnavailable() bool { return false }
