package httppresentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", application.ErrValidation)
		}
		return fmt.Errorf("%w: %v", application.ErrValidation, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	// Reason and CurrentTotal tell the client why a quote is stale and what to re-display.
	Reason       string `json:"reason,omitempty"`
	CurrentTotal int64  `json:"currentTotal,omitempty"`
}

// writeError maps an application error to its HTTP status. Server-side failures are
// logged with the request logger and answered with the bare status text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}

	var stale *pricing.StaleCartError
	if errors.As(err, &stale) {
		body.Reason = stale.Reason
		body.CurrentTotal = stale.Current
	}
	if status >= http.StatusInternalServerError {
		logctx.FromOr(r.Context(), nil).Error("http_request_failed",
			observability.F("status", status),
			observability.F("error", err.Error()),
		)
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

// statusFor checks the payment outcomes before the generic ones because a failed
// payment wraps the signature or session cause.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, dompay.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, dompay.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, apporder.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, apporder.ErrOrderPersist):
		return http.StatusServiceUnavailable
	case errors.Is(err, pricing.ErrStaleCart),
		errors.Is(err, dominventory.ErrInsufficientStock),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, dompay.ErrSessionConflict),
		errors.Is(err, apporder.ErrVerificationInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, dominventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrValidation),
		errors.Is(err, dompay.ErrUnsupportedMethod),
		errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, shipping.ErrAddressIncomplete),
		errors.Is(err, pricing.ErrEmptyCart),
		errors.Is(err, pricing.ErrInvalidQuantity),
		errors.Is(err, dominventory.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, dompay.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type orderView struct {
	ID              string                  `json:"id"`
	BuyerID         string                  `json:"buyerId"`
	Status          domain.Status           `json:"status"`
	PaymentMethod   dompay.Method           `json:"paymentMethod"`
	Payment         *dompay.Record          `json:"payment,omitempty"`
	ShippingAddress shipping.Address        `json:"shippingAddress"`
	PriceSnapshot   pricing.Draft           `json:"priceSnapshot"`
	SubOrders       []domain.VendorSubOrder `json:"subOrders"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
}

func viewOrder(o *domain.Order) orderView {
	return orderView{
		ID:              o.ID,
		BuyerID:         o.BuyerID,
		Status:          o.Status,
		PaymentMethod:   o.PaymentMethod,
		Payment:         o.Payment,
		ShippingAddress: o.ShippingAddress,
		PriceSnapshot:   o.Draft,
		SubOrders:       o.SubOrders,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type orderResponse struct {
	Success bool      `json:"success"`
	Order   orderView `json:"order"`
	// Replayed marks a confirmation answered from an earlier commit.
	Replayed bool `json:"replayed,omitempty"`
}

// sessionResponse keeps the gateway's field names so existing checkout widgets work
// unchanged.
type sessionResponse struct {
	Success         bool   `json:"success"`
	RazorpayOrderID string `json:"razorpayOrderId"`
	Key             string `json:"key"`
	SessionID       string `json:"sessionId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

func viewSession(res *apporder.PlaceOrderResult) sessionResponse {
	return sessionResponse{
		Success:         true,
		RazorpayOrderID: res.Session.GatewayOrderID,
		Key:             res.KeyID,
		SessionID:       res.Session.ID,
		Amount:          res.Session.Amount,
		Currency:        res.Session.Currency,
	}
}
