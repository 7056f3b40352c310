package domain

import (
	"time"
)

// Pagination defines standard offset paging inputs for list operations.
type Pagination struct {
	Page     int
	PageSize int
}

// Offset returns the number of records to skip for the current page.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Page packages list results together with the total match count.
type Page[T any] struct {
	Items []T
	Total int64
}

// Pages returns the number of pages required to cover Total at the given size.
func (p Page[T]) Pages(pageSize int) int64 {
	if pageSize <= 0 {
		return 0
	}
	return (p.Total + int64(pageSize) - 1) / int64(pageSize)
}

// Product is the catalog collaborator read and written by the inventory ledger.
// Monetary fields are expressed in the smallest currency unit.
type Product struct {
	ID             string
	Name           string
	Price          int64
	StockQuantity  int
	TrackInventory bool
	SalesCount     int64
	SalesRevenue   int64
	IsActive       bool
	Images         []string
	UpdatedAt      time.Time
}

// PrimaryImage returns the first catalog image, or an empty string.
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial status of every created order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the order has been accepted for fulfillment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:    {},
	OrderStatusConfirmed:  {},
	OrderStatusProcessing: {},
	OrderStatusShipped:    {},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// ValidOrderStatus reports whether the value is a recognized order status.
func ValidOrderStatus(status OrderStatus) bool {
	_, ok := orderStatuses[status]
	return ok
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether the state machine permits moving to target.
// Same-status transitions are always permitted (idempotent no-op); shipped,
// delivered, and cancelled are reachable from any non-terminal state; nothing
// re-enters pending.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if !ValidOrderStatus(target) {
		return false
	}
	if s == target {
		return true
	}
	if s.Terminal() {
		return false
	}
	return target != OrderStatusPending
}

// PaymentMethod enumerates recognized payment method values.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodStripe       PaymentMethod = "stripe"
)

var paymentMethods = map[PaymentMethod]struct{}{
	PaymentMethodCash:         {},
	PaymentMethodCard:         {},
	PaymentMethodBankTransfer: {},
	PaymentMethodStripe:       {},
}

// ValidPaymentMethod reports whether the value is a recognized payment method.
func ValidPaymentMethod(method PaymentMethod) bool {
	_, ok := paymentMethods[method]
	return ok
}

// PaymentStatus enumerates payment lifecycle states recorded on an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentInfo records payment metadata on an order. The core never talks to a
// payment provider; it only persists what the caller reports.
type PaymentInfo struct {
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
	AccountNumber string
}

// ShippingInfo holds carrier metadata and fulfillment timestamps.
type ShippingInfo struct {
	Method            string
	TrackingNumber    string
	EstimatedDelivery *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
}

// Address represents a postal address snapshot frozen on the order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// IsZero reports whether no address field has been populated.
func (a Address) IsZero() bool {
	return a == Address{}
}

// OrderItem stores a purchased line with the product snapshot captured at
// creation time. Name, Price, and Image never change after the order exists,
// regardless of later product mutation.
type OrderItem struct {
	ProductID string
	Name      string
	Price     int64
	Image     string
	Quantity  int
	Variant   string
}

// Total returns the line total for the item.
func (i OrderItem) Total() int64 {
	return i.Price * int64(i.Quantity)
}

// PricingSummary holds the rolled-up monetary fields of an order in the
// smallest currency unit. Total is recorded as supplied or computed; it is not
// reconciled against the components after creation.
type PricingSummary struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Discount int64
	Total    int64
}

// Order captures the immutable order record plus its mutable lifecycle fields.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	ShippingAddress Address
	BillingAddress  Address
	Pricing         PricingSummary
	Payment         PaymentInfo
	Status          OrderStatus
	Shipping        ShippingInfo
	Notes           string
	IsTest          bool
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusError indicates a critical dependency is unavailable.
	HealthStatusError = "error"
)

// HealthCheck describes the outcome of an individual dependency probe.
type HealthCheck struct {
	Status    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency status for health endpoints.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
