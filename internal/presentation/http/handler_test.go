package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	appinventory "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	apppricing "github.com/Zhima-Mochi/minishop-checkout/internal/application/pricing"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/gateway"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "gateway-secret"

var addressJSON = map[string]string{
	"name": "Asha", "line1": "12 MG Road", "city": "Pune", "postalCode": "411001", "country": "IN",
}

type server struct {
	router http.Handler
	carts  *memory.CartStore
	gw     *gateway.Simulated
}

func newServer(t *testing.T) *server {
	t.Helper()
	carts := memory.NewCartStore()
	stock := memory.NewStockStore()
	orders := memory.NewOrderRepository()
	sessions := memory.NewSessionRepository()
	gw := gateway.NewSimulated("rzp_test_key", testSecret, 0)

	catalog := memory.NewCatalog(
		pricing.Product{ID: "A", VendorID: "v1", UnitPrice: 100, Purchasable: true},
		pricing.Product{ID: "B", VendorID: "v2", UnitPrice: 300, Purchasable: true},
	)
	stock.Set("A", 10)
	stock.Set("B", 1)
	policy := pricing.Policy{
		Currency:              "INR",
		TaxRate:               decimal.RequireFromString("0.18"),
		FreeShippingThreshold: 500,
	}

	builder := apppricing.NewBuilder(carts, catalog, policy, nil)
	reservations := appinventory.NewReservationManager(stock, memory.NewReservationRepository(), nil, 0, nil)
	orch := apporder.NewOrchestrator(
		builder,
		reservations,
		apppayment.NewSessionManager(sessions, gw, nil),
		apppayment.NewVerifier(sessions, testSecret, nil),
		orders,
		nil,
		nil,
	)
	statusSvc := apporder.NewStatusService(orders, reservations.Restocker(), nil, nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})

	return &server{
		router: NewHandler(orch, statusSvc, metrics, nil).Router(),
		carts:  carts,
		gw:     gw,
	}
}

func (s *server) fillCart(t *testing.T, buyer string, lines ...pricing.CartLine) {
	t.Helper()
	require.NoError(t, s.carts.Put(context.Background(), buyer, lines))
}

func (s *server) do(t *testing.T, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func buyer(id string) map[string]string  { return map[string]string{headerBuyerID: id} }
func vendor(id string) map[string]string { return map[string]string{headerVendorID: id} }

type orderBody struct {
	Success  bool `json:"success"`
	Replayed bool `json:"replayed"`
	Order    struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PaymentMethod string `json:"paymentMethod"`
		PriceSnapshot struct {
			Subtotal int64 `json:"subtotal"`
			Tax      int64 `json:"tax"`
			Total    int64 `json:"total"`
		} `json:"priceSnapshot"`
		SubOrders []struct {
			VendorID string `json:"vendorId"`
			Status   string `json:"status"`
		} `json:"subOrders"`
	} `json:"order"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPlaceOrderCOD(t *testing.T) {
	s := newServer(t)
	s.fillCart(t, "u1", pricing.CartLine{ProductID: "A", Quantity: 2, UnitPriceAtAdd: 100})

	rec := s.do(t, http.MethodPost, "/orders", buyer("u1"), map[string]any{
		"items":           []map[string]any{{"productId": "A", "quantity": 2, "price": 1}},
		"shippingAddress": addressJSON,
		"paymentMethod":   "cod",
		"totalAmount":     236,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	body := decode[orderBody](t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "Pending", body.Order.Status)
	assert.Equal(t, int64(200), body.Order.PriceSnapshot.Subtotal)
	assert.Equal(t, int64(36), body.Order.PriceSnapshot.Tax)
	assert.Equal(t, int64(236), body.Order.PriceSnapshot.Total)
	require.Len(t, body.Order.SubOrders, 1)

	got := s.do(t, http.MethodGet, "/orders/"+body.Order.ID, buyer("u1"), nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, body.Order.ID, decode[orderBody](t, got).Order.ID)

	other := s.do(t, http.MethodGet, "/orders/"+body.Order.ID, buyer("u2"), nil)
	assert.Equal(t, http.StatusForbidden, other.Code)
}

func TestPlaceOrderStaleTotal(t *testing.T) {
	s := newServer(t)
	s.fillCart(t, "u1", pricing.CartLine{ProductID: "A", Quantity: 2, UnitPriceAtAdd: 100})

	rec := s.do(t, http.MethodPost, "/orders", buyer("u1"), map[string]any{
		"shippingAddress": addressJSON,
		"paymentMethod":   "cod",
		"totalAmount":     200,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, pricing.ReasonTotalMismatch, body.Reason)
	assert.Equal(t, int64(236), body.CurrentTotal)
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	s := newServer(t)
	s.fillCart(t, "u1", pricing.CartLine{ProductID: "B", Quantity: 2, UnitPriceAtAdd: 300})

	rec := s.do(t, http.MethodPost, "/orders", buyer("u1"), map[string]any{
		"shippingAddress": addressJSON,
		"paymentMethod":   "cod",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreatePaymentOrderRejectsOtherCurrency(t *testing.T) {
	s := newServer(t)
	s.fillCart(t, "u1", pricing.CartLine{ProductID: "A", Quantity: 2, UnitPriceAtAdd: 100})

	rec := s.do(t, http.MethodPost, "/payment/create-order", buyer("u1"), map[string]any{
		"amount":          236,
		"currency":        "USD",
		"shippingAddress": addressJSON,
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	body := decode[errorResponse](t, rec)
	assert.Equal(t, pricing.ReasonCurrencyMismatch, body.Reason)
	assert.Equal(t, int64(236), body.CurrentTotal)
}

func TestGatewayCheckoutAndVerify(t *testing.T) {
	s := newServer(t)
	s.fillCart(t, "u1", pricing.CartLine{ProductID: "A", Quantity: 2, UnitPriceAtAdd: 100})

	rec := s.do(t, http.MethodPost, "/payment/create-order", buyer("u1"), map[string]any{
		"amount":          236,
		"currency":        "INR",
		"shippingAddress": addressJSON,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decode[sessionResponse](t, rec)
	assert.True(t, session.Success)
	assert.Equal(t, "rzp_test_key", session.Key)
	assert.Equal(t, int64(236), session.Amount)
	assert.Equal(t, "INR", session.Currency)
	require.NotEmpty(t, session.RazorpayOrderID)

	cb := s.gw.Capture(session.RazorpayOrderID)
	verify := map[string]any{
		"gatewayOrderId": cb.GatewayOrderID,
		"transactionId":  cb.TransactionID,
		"signature":      cb.Signature,
		"paymentMethod":  "razorpay",
	}
	first := s.do(t, http.MethodPost, "/payment/verify", buyer("u1"), verify)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	placed := decode[orderBody](t, first)
	assert.Equal(t, "razorpay", placed.Order.PaymentMethod)
	assert.False(t, placed.Replayed)

	second := s.do(t, http.MethodPost, "/payment/verify", buyer("u1"), verify)
	require.Equal(t, http.StatusOK, second.Code)
	replayed := decode[orderBody](t, second)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, placed.Order.ID, replayed.Order.ID)
}

func TestVerifyUsesAddressFromRequest(t *testing.T) {
	s := newServer(t)
	s.fillCart(t, "u1", pricing.CartLine{ProductID: "A", Quantity: 1, UnitPriceAtAdd: 100})

	rec := s.do(t, http.MethodPost, "/orders", buyer("u1"), map[string]any{
		"shippingAddress": addressJSON,
		"paymentMethod":   "razorpay",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	session := decode[sessionResponse](t, rec)

	cb := s.gw.Capture(session.RazorpayOrderID)
	res := s.do(t, http.MethodPost, "/payment/verify", buyer("u1"), map[string]any{
		"gatewayOrderId": cb.GatewayOrderID,
		"transactionId":  cb.TransactionID,
		"signature":      cb.Signature,
		"shippingAddress": map[string]any{
			"name": "Asha", "line1": "99 New Street", "city": "Pune", "postalCode": "411001", "country": "IN",
		},
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	body := decode[map[string]any](t, res)
	shipTo := body["order"].(map[string]any)["shippingAddress"].(map[string]any)
	assert.Equal(t, "99 New Street", shipTo["line1"])
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	s := newServer(t)
	s.fillCart(t, "u1", pricing.CartLine{ProductID: "A", Quantity: 1, UnitPriceAtAdd: 100})

	rec := s.do(t, http.MethodPost, "/orders", buyer("u1"), map[string]any{
		"shippingAddress": addressJSON,
		"paymentMethod":   "razorpay",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	session := decode[sessionResponse](t, rec)

	cb := s.gw.Capture(session.RazorpayOrderID)
	bad := s.do(t, http.MethodPost, "/payment/verify", buyer("u1"), map[string]any{
		"gatewayOrderId": cb.GatewayOrderID,
		"transactionId":  cb.TransactionID,
		"signature":      dompay.Sign("wrong", cb.GatewayOrderID, cb.TransactionID),
	})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	unknown := s.do(t, http.MethodPost, "/payment/verify", buyer("u1"), map[string]any{
		"gatewayOrderId": "order_missing",
		"transactionId":  "pay_x",
		"signature":      dompay.Sign(testSecret, "order_missing", "pay_x"),
	})
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestStatusUpdates(t *testing.T) {
	s := newServer(t)
	s.fillCart(t, "u1",
		pricing.CartLine{ProductID: "A", Quantity: 1, UnitPriceAtAdd: 100},
		pricing.CartLine{ProductID: "B", Quantity: 1, UnitPriceAtAdd: 300},
	)
	rec := s.do(t, http.MethodPost, "/orders", buyer("u1"), map[string]any{
		"shippingAddress": addressJSON,
		"paymentMethod":   "cod",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[orderBody](t, rec).Order.ID
	path := "/vendor/orders/" + id + "/status"

	for _, st := range []string{"Processing", "Shipped"} {
		res := s.do(t, http.MethodPut, path, vendor("v1"), map[string]any{"itemIndex": 0, "status": st})
		require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	}
	// v2 has not started, so the order is only as far along as its slowest vendor.
	assert.Equal(t, "Pending", decode[orderBody](t, s.do(t, http.MethodGet, "/orders/"+id, buyer("u1"), nil)).Order.Status)

	res := s.do(t, http.MethodPut, path, vendor("v1"), map[string]any{"itemIndex": 0, "status": "Cancelled"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)

	res = s.do(t, http.MethodPut, path, vendor("v2"), map[string]any{"itemIndex": 0, "status": "Processing"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = s.do(t, http.MethodPut, path, vendor("v1"), map[string]any{"status": "Delivered"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = s.do(t, http.MethodPut, "/orders/"+id, buyer("u1"), map[string]any{"status": "Shipped"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	// v1 already shipped, so the buyer cannot cancel the whole order.
	res = s.do(t, http.MethodPut, "/orders/"+id, buyer("u1"), map[string]any{"status": "Cancelled"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
}

func TestBuyerCancel(t *testing.T) {
	s := newServer(t)
	s.fillCart(t, "u1", pricing.CartLine{ProductID: "A", Quantity: 1, UnitPriceAtAdd: 100})
	rec := s.do(t, http.MethodPost, "/orders", buyer("u1"), map[string]any{
		"shippingAddress": addressJSON,
		"paymentMethod":   "cod",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[orderBody](t, rec).Order.ID

	res := s.do(t, http.MethodPut, "/orders/"+id, buyer("u1"), map[string]any{"status": "Cancelled"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, "Cancelled", decode[orderBody](t, res).Order.Status)
}

func TestRequestValidation(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/orders", nil, map[string]any{"paymentMethod": "cod"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", buyer("u1"), map[string]any{"paymentMethod": "cod", "coupon": "FREE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", buyer("u1"), map[string]any{"paymentMethod": "bitcoin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", buyer("u1"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders/missing", buyer("u1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-42")
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	assert.Equal(t, "req-42", out.Header().Get(headerRequestID))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&apporder.PaymentFailedError{Err: &dompay.InvalidSignatureError{GatewayOrderID: "g"}}, http.StatusBadRequest},
		{&apporder.PaymentFailedError{Err: &dompay.UnknownSessionError{GatewayOrderID: "g"}}, http.StatusNotFound},
		{&apporder.PaymentFailedError{Err: dominventory.ErrReservationClosed}, http.StatusPaymentRequired},
		{&apporder.OrderPersistError{Err: domain.ErrConflict}, http.StatusServiceUnavailable},
		{&dominventory.InsufficientStockError{ProductID: "A"}, http.StatusConflict},
		{apporder.ErrVerificationInProgress, http.StatusConflict},
		{&domain.InvalidTransitionError{From: domain.StatusShipped, To: domain.StatusCancelled}, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", domain.ErrForbidden), http.StatusForbidden},
		{errUnauthenticated, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestServerErrorsHideCause(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&apporder.OrderPersistError{OrderID: "o1", Err: errors.New("dial tcp 10.0.0.5:5432: connection refused")}, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: upstream said 'invalid api key rzp_live_x'", dompay.ErrGateway), http.StatusBadGateway},
		{errors.New("nil map write in orders"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodPost, "/orders", nil), tc.err)

		require.Equal(t, tc.want, rec.Code)
		body := decode[errorResponse](t, rec)
		assert.Equal(t, http.StatusText(tc.want), body.Error)
		assert.NotContains(t, rec.Body.String(), "10.0.0.5")
		assert.NotContains(t, rec.Body.String(), "rzp_live_x")
	}
}
