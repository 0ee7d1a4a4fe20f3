// Package handler exposes the order service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-backoffice/internal/domain/auth"
	"github.com/xenking/store-backoffice/internal/domain/order"
	"github.com/xenking/store-backoffice/pkg/httpmiddleware"
)

// Service is the subset of *order.Service used by the handlers.
type Service interface {
	PlaceOrder(ctx context.Context, req *order.PlaceRequest) (*order.Order, error)
	GetOrder(ctx context.Context, id int64) (*order.Order, error)
	GetOrderByInvoice(ctx context.Context, code string, customerID *int64) (*order.Order, error)
	CheckCoupon(ctx context.Context, req *order.CouponCheck) (*order.CouponQuote, error)
	ListOrders(ctx context.Context, f order.ListFilter) (*order.OrderList, error)
	AddProduct(ctx context.Context, orderID int64, req *order.AddProductRequest) (*order.Order, error)
	UpdateLine(ctx context.Context, orderID, lineID int64, req *order.UpdateLineRequest) (*order.Order, error)
	RemoveLine(ctx context.Context, orderID, lineID int64) (*order.Order, error)
	ChangeStatus(ctx context.Context, orderID int64, to order.Status) (*order.Order, error)
	SetPaidAmount(ctx context.Context, orderID int64, paid decimal.Decimal) (*order.Order, error)
	SetPaymentStatus(ctx context.Context, orderID int64, status order.PaymentStatus) (*order.Order, error)
	UpdateCustomer(ctx context.Context, orderID int64, g order.GuestShipping) (*order.Order, error)
	DeleteOrder(ctx context.Context, orderID int64) error
}

var _ Service = (*order.Service)(nil)

// Handler serves the /api/orders and /api/coupons resources.
type Handler struct {
	orders   Service
	security *SecurityHandler
	limits   map[string]*httpmiddleware.Limiter
}

// Option configures a Handler.
type Option func(*Handler)

// WithRateLimit throttles routes guarded by scope. Buckets are kept per API
// key, so every key gets its own budget for each scope.
func WithRateLimit(scope string, l *httpmiddleware.Limiter) Option {
	return func(h *Handler) { h.limits[scope] = l }
}

// NewHandler constructs a Handler.
func NewHandler(orders Service, security *SecurityHandler, opts ...Option) *Handler {
	h := &Handler{
		orders:   orders,
		security: security,
		limits:   make(map[string]*httpmiddleware.Limiter),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ActorKey buckets authenticated requests by API key id and anything else
// by client IP.
func ActorKey(r *http.Request) string {
	if k, ok := auth.KeyFromContext(r.Context()); ok {
		return "key:" + k.ID
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}

// allow checks scope and then spends from the scope's rate limit, if any.
func (h *Handler) allow(scope string) func(http.Handler) http.Handler {
	require := h.security.Require(scope)
	l, ok := h.limits[scope]
	if !ok {
		return require
	}
	limit := l.Middleware()
	return func(next http.Handler) http.Handler {
		return require(limit(next))
	}
}

const (
	// ScopeRead guards lookups and coupon checks.
	ScopeRead = "orders:read"
	// ScopeWrite guards placement and every order mutation.
	ScopeWrite = "orders:write"
)

// Router returns the API routes. Requests are logged per route pattern.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(httpmiddleware.LogRequests())

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(h.security.Authenticate)

		r.With(h.allow(ScopeRead)).Get("/", h.ListOrders)
		r.With(h.allow(ScopeWrite)).Post("/", h.PlaceOrder)
		r.With(h.allow(ScopeRead)).Get("/invoice/{code}", h.GetOrderByInvoice)

		r.Route("/{orderID}", func(r chi.Router) {
			r.With(h.allow(ScopeRead)).Get("/", h.GetOrder)

			r.Group(func(r chi.Router) {
				r.Use(h.allow(ScopeWrite))

				r.Delete("/", h.DeleteOrder)
				r.Patch("/status", h.ChangeStatus)
				r.Patch("/customer", h.UpdateCustomer)
				r.Post("/lines", h.AddProduct)
				r.Patch("/lines/{lineID}", h.UpdateLine)
				r.Delete("/lines/{lineID}", h.RemoveLine)
				r.Put("/payment/paid-amount", h.SetPaidAmount)
				r.Put("/payment/status", h.SetPaymentStatus)
			})
		})
	})

	r.Route("/api/coupons", func(r chi.Router) {
		r.Use(h.security.Authenticate)
		r.With(h.allow(ScopeRead)).Post("/check", h.CheckCoupon)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, problem{Reason: "route_not_found", Message: "Route not found."})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, problem{Reason: "method_not_allowed", Message: "Method not allowed."})
	})
	return r
}
