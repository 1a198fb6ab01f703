package httppresentation

import (
	"context"
	"errors"
	"net/http"

	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerBuyerID        = "X-Buyer-ID"
	headerVendorID       = "X-Vendor-ID"
)

var errUnauthenticated = errors.New("http: caller identity header is missing")

// CheckoutService is the buyer-facing side of the order flow.
type CheckoutService interface {
	Checkout(ctx context.Context, in apporder.CheckoutInput) (*apporder.PlaceOrderResult, error)
	ConfirmPayment(ctx context.Context, in apporder.ConfirmPaymentInput) (*apporder.ConfirmPaymentResult, error)
	Get(ctx context.Context, orderID, buyerID string) (*domain.Order, error)
}

type StatusService interface {
	UpdateVendorStatus(ctx context.Context, in apporder.VendorStatusInput) (*domain.Order, error)
	CancelByBuyer(ctx context.Context, orderID, buyerID string) (*domain.Order, error)
}

type Handler struct {
	checkout CheckoutService
	status   StatusService
	metrics  http.Handler
	log      observability.Logger
	tel      observability.Observability
}

// NewHandler wires the HTTP surface. metrics may be nil, in which case /metrics
// is not mounted.
func NewHandler(checkout CheckoutService, status StatusService, metrics http.Handler, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		checkout: checkout,
		status:   status,
		metrics:  metrics,
		log:      tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:      tel,
	}
}

// Router wraps every route with Recoverer → Trace → request logger → access log →
// HTTP metrics. Route templates come from chi once the request has been routed.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		h.withTrace,
		ObservabilityMiddleware(h.log, func(r *http.Request) string {
			return r.Header.Get(headerRequestID)
		}),
		h.withAccessLog,
		h.withHTTPMetrics(),
	)

	r.Get("/health", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Post("/payment/create-order", h.handleCreatePaymentOrder)
	r.Post("/payment/verify", h.handleVerifyPayment)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.handlePlaceOrder)
		r.Get("/{id}", h.handleGetOrder)
		r.Put("/{id}", h.handleBuyerUpdate)
	})
	r.Put("/vendor/orders/{id}/status", h.handleVendorStatus)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func buyerID(r *http.Request) (string, error) {
	id := r.Header.Get(headerBuyerID)
	if id == "" {
		return "", errUnauthenticated
	}
	return id, nil
}

func vendorID(r *http.Request) (string, error) {
	id := r.Header.Get(headerVendorID)
	if id == "" {
		return "", errUnauthenticated
	}
	return id, nil
}
