// Package handler exposes the order lifecycle over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/domain/order"
	"github.com/xenking/bazaar/pkg/httpmiddleware"
)

// OrderService is the subset of *order.Service the handlers use.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.CreateResult, error)
	UpdateStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target order.Status) (*order.StatusUpdate, error)
	Cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID) error
	History(ctx context.Context, actor auth.Actor, orderID uuid.UUID) ([]order.HistoryEntry, error)
	GetOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*order.Detail, error)
	SellerOrders(ctx context.Context, actor auth.Actor, shopID uuid.UUID, page order.Page) ([]order.SellerOrder, error)
}

var _ OrderService = (*order.Service)(nil)

// Handler serves the order API.
type Handler struct {
	orders OrderService
}

// NewHandler constructs a Handler.
func NewHandler(orders OrderService) *Handler {
	return &Handler{orders: orders}
}

// Routes returns the API router. Every route requires a bearer token; mws run
// after authentication so they can see the actor.
func (h *Handler) Routes(authn *Authenticator, mws ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authn.Middleware)
	r.Use(mws...)

	r.Post("/orders", h.CreateOrder)
	r.Route("/orders/{orderID}", func(r chi.Router) {
		r.Get("/", h.GetOrder)
		r.Post("/cancel", h.CancelOrder)
		r.Put("/status", h.UpdateOrderStatus)
		r.Get("/history", h.OrderHistory)
	})
	r.Get("/shops/{shopID}/orders", h.SellerOrders)
	return r
}

// actor returns the authenticated actor. Routes are always behind
// Authenticator.Middleware, so a missing actor is a wiring bug.
func actor(r *http.Request) auth.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}

// ActorKey keys rate limiting by the authenticated user, falling back to the
// client IP.
func ActorKey(r *http.Request) string {
	if a, ok := auth.ActorFrom(r.Context()); ok {
		return "user:" + a.UserID.String()
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}
