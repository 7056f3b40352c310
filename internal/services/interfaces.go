package services

import (
	"context"
	"time"

	domain "github.com/cartworks/api/internal/domain"
)

// InventoryLine identifies one product consumption within an order.
type InventoryLine struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// InventoryLedger keeps product stock and sales counters consistent with the
// set of non-cancelled orders. Both operations join the ambient store
// transaction when one is active, so callers can bundle them with order writes.
type InventoryLedger interface {
	// Reserve validates the whole line set and decrements stock for tracked
	// products. Test orders skip the stock-sufficiency check but still
	// consume inventory.
	Reserve(ctx context.Context, lines []InventoryLine, isTest bool) error

	// Restore credits back the stock and sales deltas previously consumed by
	// Reserve. Callers must guard against invoking it twice for one order.
	Restore(ctx context.Context, lines []InventoryLine) error
}

// SequenceGenerator issues human-readable order numbers. Generation never
// fails: when the counter or the uniqueness probe cannot produce a candidate,
// a fallback unique by construction is returned instead.
type SequenceGenerator interface {
	Generate(ctx context.Context, isTest bool) string
}

// Requester identifies the caller of read operations for ownership checks.
type Requester struct {
	UserID   string
	Elevated bool
}

// CreateOrderItemInput references a product to purchase.
type CreateOrderItemInput struct {
	ProductID string
	Quantity  int
	Variant   string
}

// PaymentInput carries caller-supplied payment metadata.
type PaymentInput struct {
	Method        domain.PaymentMethod
	TransactionID string
	AccountNumber string
}

// CreateOrderCommand bundles the inputs for order creation.
type CreateOrderCommand struct {
	UserID          string
	Items           []CreateOrderItemInput
	ShippingAddress domain.Address
	BillingAddress  *domain.Address
	Pricing         *domain.PricingOverride
	Payment         *PaymentInput
	Notes           string
	IsTest          bool
}

// UpdateOrderStatusCommand bundles the inputs for a status transition.
type UpdateOrderStatusCommand struct {
	OrderID           string
	Status            string
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	CancelReason      string
}

// OrderListQuery narrows and pages order listings. Non-elevated requesters are
// always scoped to their own orders.
type OrderListQuery struct {
	Requester  Requester
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderService orchestrates order creation, lifecycle transitions, and reads.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string, requester Requester) (domain.Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.Page[domain.Order], error)
}
