package httppresentation

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/shipping"
	"github.com/go-chi/chi/v5"
)

// Items are accepted for compatibility with existing clients but never priced: the
// server-side cart is the source of truth. Amount and Currency must match it.
type createPaymentOrderRequest struct {
	Amount          int64            `json:"amount"`
	Currency        string           `json:"currency"`
	Items           json.RawMessage  `json:"items,omitempty"`
	ShippingAddress shipping.Address `json:"shippingAddress"`
}

func (h *Handler) handleCreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createPaymentOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checkout.Checkout(r.Context(), apporder.CheckoutInput{
		BuyerID:          buyer,
		Method:           dompay.MethodRazorpay,
		ShippingAddress:  req.ShippingAddress,
		ExpectedTotal:    req.Amount,
		ExpectedCurrency: req.Currency,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(res))
}

// ShippingAddress overrides the one given when the session opened, so a buyer who
// changed it on a retried checkout ships to the latest. PaymentMethod was fixed at
// open time and is ignored.
type verifyPaymentRequest struct {
	GatewayOrderID  string            `json:"gatewayOrderId"`
	TransactionID   string            `json:"transactionId"`
	Signature       string            `json:"signature"`
	ShippingAddress *shipping.Address `json:"shippingAddress,omitempty"`
	PaymentMethod   string            `json:"paymentMethod,omitempty"`
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req verifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checkout.ConfirmPayment(r.Context(), apporder.ConfirmPaymentInput{
		BuyerID: buyer,
		Callback: dompay.Callback{
			GatewayOrderID: req.GatewayOrderID,
			TransactionID:  req.TransactionID,
			Signature:      req.Signature,
		},
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: viewOrder(res.Order), Replayed: res.Replayed})
}

type placeOrderRequest struct {
	Items           json.RawMessage  `json:"items,omitempty"`
	ShippingAddress shipping.Address `json:"shippingAddress"`
	PaymentMethod   string           `json:"paymentMethod"`
	TotalAmount     int64            `json:"totalAmount"`
}

// handlePlaceOrder commits cash-on-delivery orders directly (201). Gateway methods
// get a payment session instead (202) and complete through /payment/verify.
func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req placeOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	method, err := dompay.ParseMethod(req.PaymentMethod)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checkout.Checkout(r.Context(), apporder.CheckoutInput{
		BuyerID:         buyer,
		Method:          method,
		ShippingAddress: req.ShippingAddress,
		ExpectedTotal:   req.TotalAmount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Order == nil {
		writeJSON(w, http.StatusAccepted, viewSession(res))
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{Success: true, Order: viewOrder(res.Order)})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ord, err := h.checkout.Get(r.Context(), chi.URLParam(r, "id"), buyer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: viewOrder(ord)})
}

type statusRequest struct {
	Status string `json:"status"`
}

// handleBuyerUpdate only lets buyers cancel; every other status belongs to vendors.
func (h *Handler) handleBuyerUpdate(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if status != domain.StatusCancelled {
		writeError(w, r, fmt.Errorf("%w: buyers may only cancel", domain.ErrForbidden))
		return
	}

	ord, err := h.status.CancelByBuyer(r.Context(), chi.URLParam(r, "id"), buyer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: viewOrder(ord)})
}

type vendorStatusRequest struct {
	ItemIndex *int   `json:"itemIndex"`
	Status    string `json:"status"`
}

func (h *Handler) handleVendorStatus(w http.ResponseWriter, r *http.Request) {
	vendor, err := vendorID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req vendorStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ItemIndex == nil {
		writeError(w, r, application.Validation("itemIndex is required"))
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ord, err := h.status.UpdateVendorStatus(r.Context(), apporder.VendorStatusInput{
		OrderID:   chi.URLParam(r, "id"),
		VendorID:  vendor,
		ItemIndex: *req.ItemIndex,
		Status:    status,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: viewOrder(ord)})
}
