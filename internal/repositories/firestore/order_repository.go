package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/cartworks/api/internal/domain"
	pfirestore "github.com/cartworks/api/internal/platform/firestore"
	"github.com/cartworks/api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserRef         string              `firestore:"userRef"`
	Items           []orderItemDocument `firestore:"items"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	BillingAddress  addressDocument     `firestore:"billingAddress"`
	Pricing         pricingDocument     `firestore:"pricing"`
	Payment         paymentDocument     `firestore:"payment"`
	Status          string              `firestore:"status"`
	Shipping        shippingDocument    `firestore:"shipping"`
	Notes           string              `firestore:"notes,omitempty"`
	IsTest          bool                `firestore:"isTest"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason    string              `firestore:"cancelReason,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	Name       string `firestore:"name"`
	Price      int64  `firestore:"price"`
	Image      string `firestore:"image,omitempty"`
	Quantity   int    `firestore:"qty"`
	Variant    string `firestore:"variant,omitempty"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient,omitempty"`
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

type pricingDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Shipping int64 `firestore:"shipping"`
	Tax      int64 `firestore:"tax"`
	Discount int64 `firestore:"discount"`
	Total    int64 `firestore:"total"`
}

type paymentDocument struct {
	Method        string `firestore:"method"`
	Status        string `firestore:"status"`
	TransactionID string `firestore:"transactionId,omitempty"`
	AccountNumber string `firestore:"accountNumber,omitempty"`
}

type shippingDocument struct {
	Method            string     `firestore:"method,omitempty"`
	TrackingNumber    string     `firestore:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty"`
	ShippedAt         *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time `firestore:"deliveredAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductRef: strings.TrimSpace(item.ProductID),
			Name:       item.Name,
			Price:      item.Price,
			Image:      item.Image,
			Quantity:   item.Quantity,
			Variant:    item.Variant,
		}
	}
	return orderDocument{
		OrderNumber:     order.OrderNumber,
		UserRef:         strings.TrimSpace(order.UserID),
		Items:           items,
		ShippingAddress: addressDocument(order.ShippingAddress),
		BillingAddress:  addressDocument(order.BillingAddress),
		Pricing:         pricingDocument(order.Pricing),
		Payment: paymentDocument{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			TransactionID: order.Payment.TransactionID,
			AccountNumber: order.Payment.AccountNumber,
		},
		Status: string(order.Status),
		Shipping: shippingDocument{
			Method:            order.Shipping.Method,
			TrackingNumber:    order.Shipping.TrackingNumber,
			EstimatedDelivery: order.Shipping.EstimatedDelivery,
			ShippedAt:         order.Shipping.ShippedAt,
			DeliveredAt:       order.Shipping.DeliveredAt,
		},
		Notes:        order.Notes,
		IsTest:       order.IsTest,
		CancelledAt:  order.CancelledAt,
		CancelReason: order.CancelReason,
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductRef,
			Name:      item.Name,
			Price:     item.Price,
			Image:     item.Image,
			Quantity:  item.Quantity,
			Variant:   item.Variant,
		}
	}
	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserRef,
		Items:           items,
		ShippingAddress: domain.Address(d.ShippingAddress),
		BillingAddress:  domain.Address(d.BillingAddress),
		Pricing:         domain.PricingSummary(d.Pricing),
		Payment: domain.PaymentInfo{
			Method:        domain.PaymentMethod(d.Payment.Method),
			Status:        domain.PaymentStatus(d.Payment.Status),
			TransactionID: d.Payment.TransactionID,
			AccountNumber: d.Payment.AccountNumber,
		},
		Status: domain.OrderStatus(d.Status),
		Shipping: domain.ShippingInfo{
			Method:            d.Shipping.Method,
			TrackingNumber:    d.Shipping.TrackingNumber,
			EstimatedDelivery: d.Shipping.EstimatedDelivery,
			ShippedAt:         d.Shipping.ShippedAt,
			DeliveredAt:       d.Shipping.DeliveredAt,
		},
		Notes:        d.Notes,
		IsTest:       d.IsTest,
		CancelledAt:  d.CancelledAt,
		CancelReason: d.CancelReason,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert persists a new order document. Inside an ambient transaction the
// create is staged so it commits together with the stock mutations.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.documentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := newOrderDocument(order)

	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}
	_, err = ref.Create(ctx, doc)
	return pfirestore.WrapError("orders.insert", err)
}

// Update rewrites the full order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	ref, err := r.documentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := newOrderDocument(order)

	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc))
	}
	_, err = ref.Set(ctx, doc)
	return pfirestore.WrapError("orders.update", err)
}

// FindByID loads an order, reading through the ambient transaction when one is active.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		ref, err := r.documentRef(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, fmt.Errorf("decode order %s: %w", orderID, err)
		}
		return doc.toDomain(orderID), nil
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns a page of orders newest first along with the total match count.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}

	narrow := func(query firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			query = query.Where("userRef", "==", userID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			query = query.Where("status", "in", statuses)
		}
		return query
	}

	total, err := r.orders.Count(ctx, narrow)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		query = narrow(query).OrderBy("createdAt", firestore.Desc)
		if offset := filter.Pagination.Offset(); offset > 0 {
			query = query.Offset(offset)
		}
		if filter.Pagination.PageSize > 0 {
			query = query.Limit(filter.Pagination.PageSize)
		}
		return query
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	orders := make([]domain.Order, len(docs))
	for i, doc := range docs {
		orders[i] = doc.Data.toDomain(doc.ID)
	}
	return domain.Page[domain.Order]{Items: orders, Total: total}, nil
}

// ExistsByNumber reports whether any order already carries the given number.
func (r *OrderRepository) ExistsByNumber(ctx context.Context, orderNumber string) (bool, error) {
	if r == nil || r.orders == nil {
		return false, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return false, errors.New("orders.existsByNumber: order number is required")
	}

	coll, err := r.orders.CollectionRef(ctx)
	if err != nil {
		return false, err
	}

	iter := coll.Where("orderNumber", "==", orderNumber).Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err = iter.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, pfirestore.WrapError("orders.existsByNumber", err)
	}
	return true, nil
}

func (r *OrderRepository) documentRef(ctx context.Context, orderID string) (*firestore.DocumentRef, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("orders: order id is required")
	}
	return r.orders.DocumentRef(ctx, orderID)
}
