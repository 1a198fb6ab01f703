package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/gateway"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func testDraft(t *testing.T) pricing.Draft {
	t.Helper()
	d, err := pricing.Build(
		[]pricing.CartLine{{ProductID: "p1", Quantity: 2, UnitPriceAtAdd: 100}},
		map[string]pricing.Product{"p1": {ID: "p1", VendorID: "v1", UnitPrice: 100, Purchasable: true}},
		pricing.Policy{Currency: "INR", TaxRate: decimal.RequireFromString("0.18")},
		time.Now(),
	)
	require.NoError(t, err)
	return d
}

type countingGateway struct {
	*gateway.Simulated
	orders atomic.Int32
}

func (g *countingGateway) CreateOrder(ctx context.Context, req dompay.OrderRequest) (dompay.GatewayOrder, error) {
	g.orders.Add(1)
	time.Sleep(5 * time.Millisecond)
	return g.Simulated.CreateOrder(ctx, req)
}

func openSession(t *testing.T, m *SessionManager, buyer string) *dompay.Session {
	t.Helper()
	res, err := m.Open(context.Background(), OpenSessionInput{
		BuyerID:          buyer,
		Draft:            testDraft(t),
		ReservationToken: "res-" + buyer,
		Method:           dompay.MethodRazorpay,
		ExpiresAt:        time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	return res.Session
}

func TestOpenSessionAssignsOrderIDAndAmount(t *testing.T) {
	m := NewSessionManager(memory.NewSessionRepository(), gateway.NewSimulated("rzp_test", secret, 0), nil)

	s := openSession(t, m, "b1")

	assert.NotEmpty(t, s.ID)
	assert.NotEmpty(t, s.OrderID)
	assert.Equal(t, int64(236), s.Amount)
	assert.Equal(t, "INR", s.Currency)
	assert.Equal(t, dompay.SessionCreated, s.Status)
	assert.Equal(t, "rzp_test", m.KeyID())
}

func TestOpenSessionReusesOpenSession(t *testing.T) {
	gw := &countingGateway{Simulated: gateway.NewSimulated("rzp_test", secret, 0)}
	m := NewSessionManager(memory.NewSessionRepository(), gw, nil)

	first := openSession(t, m, "b1")
	res, err := m.Open(context.Background(), OpenSessionInput{
		BuyerID:          "b1",
		Draft:            testDraft(t),
		ReservationToken: "second",
		Method:           dompay.MethodRazorpay,
	})
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, first.GatewayOrderID, res.Session.GatewayOrderID)
	assert.EqualValues(t, 1, gw.orders.Load())
}

func TestConcurrentOpensCollapse(t *testing.T) {
	gw := &countingGateway{Simulated: gateway.NewSimulated("rzp_test", secret, 0)}
	m := NewSessionManager(memory.NewSessionRepository(), gw, nil)
	d := testDraft(t)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*OpenSessionResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Open(context.Background(), OpenSessionInput{
				BuyerID: "b1", Draft: d, ReservationToken: string(rune('a' + i)), Method: dompay.MethodRazorpay,
			})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	bound := 0
	for _, r := range results {
		assert.Equal(t, results[0].Session.GatewayOrderID, r.Session.GatewayOrderID)
		if !r.Reused {
			bound++
		}
	}
	assert.Equal(t, 1, bound)
}

func TestOpenSessionRejectsCOD(t *testing.T) {
	m := NewSessionManager(memory.NewSessionRepository(), gateway.NewSimulated("rzp_test", secret, 0), nil)
	_, err := m.Open(context.Background(), OpenSessionInput{BuyerID: "b1", Draft: testDraft(t), Method: dompay.MethodCOD})
	assert.ErrorIs(t, err, dompay.ErrUnsupportedMethod)
}

func TestOpenSessionGatewayFailure(t *testing.T) {
	m := NewSessionManager(memory.NewSessionRepository(), gateway.NewSimulated("rzp_test", secret, 1), nil)
	_, err := m.Open(context.Background(), OpenSessionInput{BuyerID: "b1", Draft: testDraft(t), Method: dompay.MethodRazorpay})
	assert.ErrorIs(t, err, dompay.ErrGateway)
}

func TestVerify(t *testing.T) {
	repo := memory.NewSessionRepository()
	gw := gateway.NewSimulated("rzp_test", secret, 0)
	m := NewSessionManager(repo, gw, nil)
	v := NewVerifier(repo, secret, nil)
	ctx := context.Background()

	s := openSession(t, m, "b1")
	cb := gw.Capture(s.GatewayOrderID)

	res, err := v.Verify(ctx, cb)
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	require.NotNil(t, res.Session.Record)
	assert.Equal(t, cb.TransactionID, res.Session.Record.TransactionID)
	assert.Equal(t, int64(236), res.Session.Record.Amount)

	t.Run("replay of the same transaction", func(t *testing.T) {
		again, err := v.Verify(ctx, cb)
		require.NoError(t, err)
		assert.False(t, again.Claimed)
		assert.Equal(t, s.OrderID, again.Session.OrderID)
	})

	t.Run("different transaction", func(t *testing.T) {
		other := gw.Capture(s.GatewayOrderID)
		_, err := v.Verify(ctx, other)
		assert.ErrorIs(t, err, dompay.ErrSessionConflict)
	})
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	repo := memory.NewSessionRepository()
	gw := gateway.NewSimulated("rzp_test", secret, 0)
	v := NewVerifier(repo, secret, nil)
	s := openSession(t, NewSessionManager(repo, gw, nil), "b1")

	cb := gw.Capture(s.GatewayOrderID)
	cb.Signature = dompay.Sign("forged", cb.GatewayOrderID, cb.TransactionID)
	_, err := v.Verify(context.Background(), cb)

	var sigErr *dompay.InvalidSignatureError
	require.True(t, errors.As(err, &sigErr))
	stored, err := repo.GetByGatewayOrderID(context.Background(), s.GatewayOrderID)
	require.NoError(t, err)
	assert.Equal(t, dompay.SessionCreated, stored.Status)
}

func TestVerifyUnknownOrClosedSession(t *testing.T) {
	repo := memory.NewSessionRepository()
	gw := gateway.NewSimulated("rzp_test", secret, 0)
	m := NewSessionManager(repo, gw, nil)
	v := NewVerifier(repo, secret, nil)
	ctx := context.Background()

	_, err := v.Verify(ctx, gw.Capture("order_missing"))
	assert.ErrorIs(t, err, dompay.ErrUnknownSession)

	failed := openSession(t, m, "b1")
	require.NoError(t, m.Fail(ctx, failed.GatewayOrderID, "reservation_closed"))
	_, err = v.Verify(ctx, gw.Capture(failed.GatewayOrderID))
	assert.ErrorIs(t, err, dompay.ErrUnknownSession)

	expired := openSession(t, m, "b2")
	v.now = func() time.Time { return expired.ExpiresAt.Add(time.Second) }
	_, err = v.Verify(ctx, gw.Capture(expired.GatewayOrderID))
	var unknown *dompay.UnknownSessionError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "expired", unknown.Reason)
}

func TestVerifyRequiresAllFields(t *testing.T) {
	v := NewVerifier(memory.NewSessionRepository(), secret, nil)
	_, err := v.Verify(context.Background(), dompay.Callback{GatewayOrderID: "order_1"})
	assert.Error(t, err)
}

func TestRefund(t *testing.T) {
	gw := gateway.NewSimulated("rzp_test", secret, 0)
	uc := NewRefundUseCase(gw, nil)

	id, err := uc.Execute(context.Background(), RefundInput{OrderID: "o1", TransactionID: "pay_1", Amount: 118, Currency: "INR"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, gw.Refunds(), 1)
	assert.Equal(t, int64(118), gw.Refunds()[0].Amount)

	_, err = uc.Execute(context.Background(), RefundInput{OrderID: "o1", TransactionID: "pay_1"})
	assert.Error(t, err)
}
