package repositories

import (
	"context"
	"time"

	domain "github.com/cartworks/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog products and mutates their stock and sales
// counters. The sale mutations require an ambient transaction on the context;
// they read every product, validate the whole set, and only then stage writes,
// so the enclosing transaction commits all product mutations together or not
// at all. Firestore transactions reject reads issued after buffered writes,
// which is why the read and write phases are strictly separated.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)

	// ApplySales decrements stock (when tracked) and increments sales
	// counters for every product in the set. Inactive products fail the
	// whole set; with EnforceStock set, a tracked product whose available
	// quantity is below the requested amount fails the whole set before any
	// write is staged.
	ApplySales(ctx context.Context, mutations []SaleMutation) error

	// ReverseSales restores stock (when tracked) and decrements sales
	// counters (floored at zero) previously consumed by ApplySales.
	ReverseSales(ctx context.Context, mutations []SaleMutation) error
}

// SaleMutation describes a per-product counter adjustment performed inside a transaction.
type SaleMutation struct {
	ProductID    string
	Quantity     int
	Revenue      int64
	EnforceStock bool
	Now          time.Time
}

// OrderRepository persists order documents and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	ExistsByNumber(ctx context.Context, orderNumber string) (bool, error)
}

// OrderListFilter narrows and pages order listings. Results are ordered by
// creation time descending.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
