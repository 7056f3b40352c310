package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cartworks/api/internal/domain"
	"github.com/cartworks/api/internal/platform/auth"
	"github.com/cartworks/api/internal/platform/httpx"
	"github.com/cartworks/api/internal/platform/pagination"
	"github.com/cartworks/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

// OrderHandlers exposes the order endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/status", h.updateStatus)
}

type addressRequest struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(a.Recipient),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
		Phone:      strings.TrimSpace(a.Phone),
	}
}

type createOrderRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
		Variant   string `json:"variant"`
	} `json:"items"`
	ShippingAddress addressRequest  `json:"shipping_address"`
	BillingAddress  *addressRequest `json:"billing_address"`
	Pricing         *struct {
		Subtotal *int64 `json:"subtotal"`
		Shipping *int64 `json:"shipping"`
		Tax      *int64 `json:"tax"`
		Discount *int64 `json:"discount"`
		Total    *int64 `json:"total"`
	} `json:"pricing"`
	Payment *struct {
		Method        string `json:"method"`
		TransactionID string `json:"transaction_id"`
		AccountNumber string `json:"account_number"`
	} `json:"payment"`
	Notes  string `json:"notes"`
	IsTest bool   `json:"is_test"`
}

type updateOrderStatusRequest struct {
	Status            string  `json:"status"`
	TrackingNumber    *string `json:"tracking_number"`
	EstimatedDelivery *string `json:"estimated_delivery"`
	CancelReason      string  `json:"cancel_reason"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:          identity.UID,
		ShippingAddress: req.ShippingAddress.toDomain(),
		Notes:           req.Notes,
		IsTest:          req.IsTest,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Variant:   item.Variant,
		})
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}
	if req.Pricing != nil {
		cmd.Pricing = &domain.PricingOverride{
			Subtotal: req.Pricing.Subtotal,
			Shipping: req.Pricing.Shipping,
			Tax:      req.Pricing.Tax,
			Discount: req.Pricing.Discount,
			Total:    req.Pricing.Total,
		}
	}
	if req.Payment != nil {
		cmd.Payment = &services.PaymentInput{
			Method:        domain.PaymentMethod(strings.TrimSpace(req.Payment.Method)),
			TransactionID: req.Payment.TransactionID,
			AccountNumber: req.Payment.AccountNumber,
		}
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	statuses, ok := parseStatusFilters(r.URL.Query()["status"])
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter must be a valid order status", http.StatusBadRequest))
		return
	}

	query := services.OrderListQuery{
		Requester:  requesterFrom(identity),
		UserID:     strings.TrimSpace(r.URL.Query().Get("user_id")),
		Status:     statuses,
		Pagination: params,
	}

	page, err := h.orders.ListOrders(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	orders := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, buildOrderPayload(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders: orders,
		Total:  page.Total,
		Page:   params.Page,
		Pages:  page.Pages(params.PageSize),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, requesterFrom(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	target := domain.OrderStatus(strings.TrimSpace(req.Status))

	// Customers may cancel their own orders; every other transition is staff-only.
	if !identity.Elevated() {
		if target != domain.OrderStatusCancelled {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient privileges for status updates", http.StatusForbidden))
			return
		}
		if _, err := h.orders.GetOrder(ctx, orderID, requesterFrom(identity)); err != nil {
			writeOrderError(ctx, w, err)
			return
		}
	}

	cmd := services.UpdateOrderStatusCommand{
		OrderID:        orderID,
		Status:         req.Status,
		TrackingNumber: req.TrackingNumber,
		CancelReason:   req.CancelReason,
	}
	if req.EstimatedDelivery != nil {
		estimated, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.EstimatedDelivery))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDelivery = &estimated
	}

	order, err := h.orders.UpdateStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Orders []orderPayload `json:"orders"`
	Total  int64          `json:"total"`
	Page   int            `json:"page"`
	Pages  int64          `json:"pages"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string               `json:"id"`
	OrderNumber     string               `json:"order_number"`
	UserID          string               `json:"user_id"`
	Status          string               `json:"status"`
	Items           []orderItemPayload   `json:"items"`
	ShippingAddress addressPayload       `json:"shipping_address"`
	BillingAddress  addressPayload       `json:"billing_address"`
	Pricing         orderPricingPayload  `json:"pricing"`
	Payment         orderPaymentPayload  `json:"payment"`
	Shipping        orderShippingPayload `json:"shipping"`
	Notes           string               `json:"notes,omitempty"`
	IsTest          bool                 `json:"is_test,omitempty"`
	CancelledAt     string               `json:"cancelled_at,omitempty"`
	CancelReason    string               `json:"cancel_reason,omitempty"`
	CreatedAt       string               `json:"created_at"`
	UpdatedAt       string               `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	Variant   string `json:"variant,omitempty"`
	Total     int64  `json:"total"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type orderPricingPayload struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type orderPaymentPayload struct {
	Method        string `json:"method,omitempty"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

type orderShippingPayload struct {
	Method            string `json:"method,omitempty"`
	TrackingNumber    string `json:"tracking_number,omitempty"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
	ShippedAt         string `json:"shipped_at,omitempty"`
	DeliveredAt       string `json:"delivered_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		Pricing: orderPricingPayload{
			Subtotal: order.Pricing.Subtotal,
			Shipping: order.Pricing.Shipping,
			Tax:      order.Pricing.Tax,
			Discount: order.Pricing.Discount,
			Total:    order.Pricing.Total,
		},
		Payment: orderPaymentPayload{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			TransactionID: order.Payment.TransactionID,
			AccountNumber: order.Payment.AccountNumber,
		},
		Shipping: orderShippingPayload{
			Method:            order.Shipping.Method,
			TrackingNumber:    order.Shipping.TrackingNumber,
			EstimatedDelivery: formatTime(pointerTime(order.Shipping.EstimatedDelivery)),
			ShippedAt:         formatTime(pointerTime(order.Shipping.ShippedAt)),
			DeliveredAt:       formatTime(pointerTime(order.Shipping.DeliveredAt)),
		},
		Notes:        order.Notes,
		IsTest:       order.IsTest,
		CancelledAt:  formatTime(pointerTime(order.CancelledAt)),
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Image:     item.Image,
			Quantity:  item.Quantity,
			Variant:   item.Variant,
			Total:     item.Total(),
		})
	}

	return payload
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func requesterFrom(identity *auth.Identity) services.Requester {
	return services.Requester{
		UserID:   strings.TrimSpace(identity.UID),
		Elevated: identity.Elevated(),
	}
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func parseStatusFilters(values []string) ([]domain.OrderStatus, bool) {
	if len(values) == 0 {
		return nil, true
	}
	statuses := make([]domain.OrderStatus, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status := domain.OrderStatus(strings.ToLower(part))
			if !domain.ValidOrderStatus(status) {
				return nil, false
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrMissingTransactionID):
		httpx.WriteError(ctx, w, httpx.NewError("missing_transaction_id", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInvalidStatus):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient privileges", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
