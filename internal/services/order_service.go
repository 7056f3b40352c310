package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cartworks/api/internal/domain"
	"github.com/cartworks/api/internal/platform/pagination"
	"github.com/cartworks/api/internal/platform/textutil"
	"github.com/cartworks/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrMissingTransactionID indicates a bank transfer without a transaction reference.
	ErrMissingTransactionID = errors.New("order: missing transaction id")
	// ErrInvalidStatus indicates an unrecognized status value or a disallowed transition.
	ErrInvalidStatus = errors.New("order: invalid status")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates duplicates or concurrent modification conflicts.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrForbidden indicates the requester does not own the order and holds no elevated privilege.
	ErrForbidden = errors.New("order: forbidden")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Inventory   InventoryLedger
	Sequence    SequenceGenerator
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	inventory  InventoryLedger
	sequence   SequenceGenerator
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory ledger is required")
	}
	if deps.Sequence == nil {
		return nil, errors.New("order service: sequence generator is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		inventory:  deps.Inventory,
		sequence:   deps.Sequence,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	if err := validateCreateInput(cmd); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:              orderIDPrefix + s.newID(),
		OrderNumber:     s.sequence.Generate(ctx, cmd.IsTest),
		UserID:          strings.TrimSpace(cmd.UserID),
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cmd.ShippingAddress,
		Payment:         buildPaymentInfo(cmd.Payment),
		Status:          domain.OrderStatusPending,
		Notes:           textutil.SanitizeFreeText(cmd.Notes, 0),
		IsTest:          cmd.IsTest,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if cmd.BillingAddress != nil && !cmd.BillingAddress.IsZero() {
		order.BillingAddress = *cmd.BillingAddress
	}

	if order.OrderNumber == "" {
		// Generate always returns a fallback value; an empty number means the
		// generator itself is broken and the order is persisted numberless.
		s.logger(ctx, "order.number.missing", map[string]any{"orderId": order.ID})
	}

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		items, err := s.snapshotItems(txCtx, cmd.Items)
		if err != nil {
			return err
		}
		order.Items = items

		pricing, err := domain.ComputePricing(items, cmd.Pricing)
		if err != nil {
			if errors.Is(err, domain.ErrNegativePricing) {
				return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
			}
			return err
		}
		order.Pricing = pricing

		if err := s.inventory.Reserve(txCtx, reservationLines(items), cmd.IsTest); err != nil {
			return err
		}

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"isTest": order.IsTest,
			"total":  order.Pricing.Total,
		},
	})

	return order, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	target := domain.OrderStatus(strings.TrimSpace(cmd.Status))
	if !domain.ValidOrderStatus(target) {
		return domain.Order{}, fmt.Errorf("%w: unrecognized status %q", ErrInvalidStatus, cmd.Status)
	}

	var (
		order      domain.Order
		prevStatus domain.OrderStatus
		changed    bool
	)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		prevStatus = order.Status
		if !order.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, order.Status, target)
		}

		now := s.now()
		changed = order.Status != target
		restore := false

		if changed {
			order.Status = target
			switch target {
			case domain.OrderStatusShipped:
				if order.Shipping.ShippedAt == nil {
					order.Shipping.ShippedAt = &now
				}
			case domain.OrderStatusDelivered:
				if order.Shipping.DeliveredAt == nil {
					order.Shipping.DeliveredAt = &now
				}
			case domain.OrderStatusCancelled:
				// CancelledAt doubles as the restore-once guard: a retried
				// cancellation must not credit stock a second time.
				if order.CancelledAt == nil {
					order.CancelledAt = &now
					order.CancelReason = textutil.SanitizeFreeText(cmd.CancelReason, 0)
					restore = true
				}
			}
		}

		applyShippingMetadata(&order, cmd)
		order.UpdatedAt = now

		if restore {
			if err := s.inventory.Restore(txCtx, reservationLines(order.Items)); err != nil {
				return err
			}
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if changed {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(order.Status),
			OccurredAt:     order.UpdatedAt,
			Metadata:       statusChangeMetadata(order),
		})
	}

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, requester Requester) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	if !requester.Elevated && order.UserID != strings.TrimSpace(requester.UserID) {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrForbidden, orderID)
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.Page[domain.Order], error) {
	filter := repositories.OrderListFilter{
		UserID:     strings.TrimSpace(query.UserID),
		Status:     query.Status,
		Pagination: pagination.Must(query.Pagination),
	}

	if !query.Requester.Elevated {
		owner := strings.TrimSpace(query.Requester.UserID)
		if owner == "" {
			return domain.Page[domain.Order]{}, fmt.Errorf("%w: listing requires an authenticated requester", ErrForbidden)
		}
		filter.UserID = owner
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) snapshotItems(ctx context.Context, inputs []CreateOrderItemInput) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(inputs))
	for _, input := range inputs {
		product, err := s.products.FindByID(ctx, strings.TrimSpace(input.ProductID))
		if err != nil {
			var invErr *repositories.InventoryError
			if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorProductNotFound {
				return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, invErr.Message)
			}
			return nil, s.mapRepositoryError(err)
		}
		if !product.IsActive {
			return nil, fmt.Errorf("%w: product %s is not active", ErrProductUnavailable, product.ID)
		}

		items = append(items, domain.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Image:     product.PrimaryImage(),
			Quantity:  input.Quantity,
			Variant:   strings.TrimSpace(input.Variant),
		})
	}
	return items, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func validateCreateInput(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item quantity must be at least 1", ErrOrderInvalidInput)
		}
	}
	if cmd.ShippingAddress.IsZero() {
		return fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	if cmd.Payment != nil {
		if !domain.ValidPaymentMethod(cmd.Payment.Method) {
			return fmt.Errorf("%w: unrecognized payment method %q", ErrOrderInvalidInput, cmd.Payment.Method)
		}
		if cmd.Payment.Method == domain.PaymentMethodBankTransfer && strings.TrimSpace(cmd.Payment.TransactionID) == "" {
			return fmt.Errorf("%w: bank transfer requires a transaction id", ErrMissingTransactionID)
		}
	}
	return nil
}

// buildPaymentInfo records caller-supplied payment metadata with the status
// forced to pending regardless of input.
func buildPaymentInfo(input *PaymentInput) domain.PaymentInfo {
	info := domain.PaymentInfo{Status: domain.PaymentStatusPending}
	if input == nil {
		return info
	}
	info.Method = input.Method
	info.TransactionID = strings.TrimSpace(input.TransactionID)
	info.AccountNumber = strings.TrimSpace(input.AccountNumber)
	return info
}

func applyShippingMetadata(order *domain.Order, cmd UpdateOrderStatusCommand) {
	if cmd.TrackingNumber != nil {
		order.Shipping.TrackingNumber = strings.TrimSpace(*cmd.TrackingNumber)
	}
	if cmd.EstimatedDelivery != nil {
		estimated := cmd.EstimatedDelivery.UTC()
		order.Shipping.EstimatedDelivery = &estimated
	}
}

func reservationLines(items []domain.OrderItem) []InventoryLine {
	lines := make([]InventoryLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, InventoryLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}
	return lines
}

func statusChangeMetadata(order domain.Order) map[string]any {
	metadata := map[string]any{}
	if order.Status == domain.OrderStatusCancelled && order.CancelReason != "" {
		metadata["reason"] = order.CancelReason
	}
	if order.Shipping.TrackingNumber != "" {
		metadata["trackingNumber"] = order.Shipping.TrackingNumber
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}
