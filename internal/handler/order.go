package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/fault"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/internal/domain/payment"
)

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	ShopID        uuid.UUID       `json:"shopId"`
	AddressID     uuid.UUID       `json:"addressId"`
	PaymentMethod string          `json:"paymentMethod"`
	VoucherID     *uuid.UUID      `json:"voucherId,omitempty"`
	Items         []OrderLineBody `json:"items"`
}

// OrderLineBody is one requested line.
type OrderLineBody struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// CreateOrderResponse is the body of a successful POST /orders.
type CreateOrderResponse struct {
	OrderID    uuid.UUID `json:"orderId"`
	PaymentURL *string   `json:"paymentUrl"`
}

// UpdateStatusRequest is the body of PUT /orders/{orderID}/status.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// StatusUpdateResponse is the result of a status transition.
type StatusUpdateResponse struct {
	OrderID     uuid.UUID `json:"orderId"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HistoryEntryResponse is one status history row.
type HistoryEntryResponse struct {
	Status      string    `json:"status"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Amounts are money fields rendered as fixed two-decimal strings.
type Amounts struct {
	Subtotal        string `json:"subtotal"`
	ShippingFee     string `json:"shippingFee"`
	VoucherDiscount string `json:"voucherDiscount"`
	FinalAmount     string `json:"finalAmount"`
}

// OrderItemResponse is one order line.
type OrderItemResponse struct {
	ProductID       uuid.UUID `json:"productId"`
	Quantity        int       `json:"quantity"`
	PriceAtPurchase string    `json:"priceAtPurchase"`
}

// OrderResponse is the body of GET /orders/{orderID}.
type OrderResponse struct {
	Amounts

	ID            uuid.UUID  `json:"id"`
	BuyerID       uuid.UUID  `json:"buyerId"`
	ShopID        uuid.UUID  `json:"shopId"`
	AddressID     uuid.UUID  `json:"addressId"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"paymentMethod"`
	VoucherID     *uuid.UUID `json:"voucherId,omitempty"`
	Cancelled     bool       `json:"cancelled"`
	CreatedAt     time.Time  `json:"createdAt"`

	Items []OrderItemResponse `json:"items"`
}

// SellerOrderResponse is one row of GET /shops/{shopID}/orders.
type SellerOrderResponse struct {
	Amounts

	OrderID       uuid.UUID `json:"orderId"`
	Customer      Customer  `json:"customer"`
	PaymentMethod string    `json:"paymentMethod"`
	Status        string    `json:"status"`
	ItemCount     int       `json:"itemCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Customer identifies the buyer of a seller order.
type Customer struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// CreateOrder handles POST /orders on behalf of the authenticated buyer.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body CreateOrderRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	method, ok := payment.ParseMethod(body.PaymentMethod)
	if !ok {
		writeError(w, r, fault.InvalidInput("unsupported payment method: %q", body.PaymentMethod))
		return
	}

	req := order.CreateRequest{
		BuyerID:       actor(r).UserID,
		ShopID:        body.ShopID,
		AddressID:     body.AddressID,
		PaymentMethod: method,
		Items:         make([]order.LineRequest, len(body.Items)),
	}
	for i, it := range body.Items {
		req.Items[i] = order.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	if body.VoucherID != nil {
		req.VoucherID = uuid.NullUUID{UUID: *body.VoucherID, Valid: true}
	}

	res, err := h.orders.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := CreateOrderResponse{OrderID: res.OrderID}
	if res.PaymentURL != "" {
		resp.PaymentURL = &res.PaymentURL
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetOrder handles GET /orders/{orderID}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(r, "orderID")
	if !ok {
		writeBadRequest(w, "invalid order id")
		return
	}

	d, err := h.orders.GetOrder(r.Context(), actor(r), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o := d.Order
	resp := OrderResponse{
		ID:            o.ID,
		BuyerID:       o.BuyerID,
		ShopID:        o.ShopID,
		AddressID:     o.AddressID,
		Status:        string(d.Status),
		PaymentMethod: string(o.PaymentMethod),
		Cancelled:     o.Cancelled,
		CreatedAt:     o.CreatedAt,
		Amounts:       amounts(o.Subtotal, o.ShippingFee, o.VoucherDiscount, o.FinalAmount),
		Items:         make([]OrderItemResponse, len(o.Items)),
	}
	if o.VoucherID.Valid {
		resp.VoucherID = &o.VoucherID.UUID
	}
	for i, it := range o.Items {
		resp.Items[i] = OrderItemResponse{
			ProductID:       it.ProductID,
			Quantity:        it.Quantity,
			PriceAtPurchase: it.PriceAtPurchase.StringFixed(2),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelOrder handles POST /orders/{orderID}/cancel.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(r, "orderID")
	if !ok {
		writeBadRequest(w, "invalid order id")
		return
	}

	if err := h.orders.Cancel(r.Context(), actor(r), orderID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateOrderStatus handles PUT /orders/{orderID}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(r, "orderID")
	if !ok {
		writeBadRequest(w, "invalid order id")
		return
	}
	var body UpdateStatusRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	target, ok := order.ParseStatus(body.Status)
	if !ok {
		writeError(w, r, fault.InvalidInput("unknown order status: %q", body.Status))
		return
	}

	upd, err := h.orders.UpdateStatus(r.Context(), actor(r), orderID, target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusUpdateResponse{
		OrderID:     upd.OrderID,
		Status:      string(upd.Status),
		Description: upd.Description,
		UpdatedAt:   upd.UpdatedAt,
	})
}

// OrderHistory handles GET /orders/{orderID}/history.
func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	orderID, ok := uuidParam(r, "orderID")
	if !ok {
		writeBadRequest(w, "invalid order id")
		return
	}

	entries, err := h.orders.History(r.Context(), actor(r), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]HistoryEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = HistoryEntryResponse{
			Status:      string(e.Status),
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SellerOrders handles GET /shops/{shopID}/orders?limit=&offset=.
func (h *Handler) SellerOrders(w http.ResponseWriter, r *http.Request) {
	shopID, ok := uuidParam(r, "shopID")
	if !ok {
		writeBadRequest(w, "invalid shop id")
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	rows, err := h.orders.SellerOrders(r.Context(), actor(r), shopID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]SellerOrderResponse, len(rows))
	for i, so := range rows {
		resp[i] = SellerOrderResponse{
			OrderID:       so.OrderID,
			Customer:      Customer{ID: so.BuyerID, Name: so.CustomerName, Email: so.CustomerEmail},
			PaymentMethod: string(so.PaymentMethod),
			Status:        string(so.Status),
			ItemCount:     so.ItemCount,
			CreatedAt:     so.CreatedAt,
			Amounts:       amounts(so.Subtotal, so.ShippingFee, so.VoucherDiscount, so.FinalAmount),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func amounts(subtotal, shipping, discount, final decimal.Decimal) Amounts {
	return Amounts{
		Subtotal:        subtotal.StringFixed(2),
		ShippingFee:     shipping.StringFixed(2),
		VoucherDiscount: discount.StringFixed(2),
		FinalAmount:     final.StringFixed(2),
	}
}

func parsePage(r *http.Request) (order.Page, error) {
	var p order.Page
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errInvalidQuery("limit")
		}
		p.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errInvalidQuery("offset")
		}
		p.Offset = n
	}
	return p, nil
}

type errInvalidQuery string

func (e errInvalidQuery) Error() string {
	return "invalid " + string(e) + " parameter"
}
