// Package gateway holds payment gateway adapters.
package gateway

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/google/uuid"
)

var ErrDeclined = errors.New("gateway: declined")

// Simulated stands in for the hosted gateway in local runs and tests. It opens
// orders, signs captures with the shared secret and declines a configurable share
// of calls.
type Simulated struct {
	keyID  string
	secret string

	mu          sync.Mutex
	random      *rand.Rand
	declineRate float64
	refunds     []dompay.RefundRequest
}

func NewSimulated(keyID, secret string, declineRate float64) *Simulated {
	g := &Simulated{
		keyID:  keyID,
		secret: secret,
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	g.SetDeclineRate(declineRate)
	return g
}

func (g *Simulated) KeyID() string { return g.keyID }

func (g *Simulated) CreateOrder(ctx context.Context, req dompay.OrderRequest) (dompay.GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return dompay.GatewayOrder{}, err
	}
	if req.Amount <= 0 {
		return dompay.GatewayOrder{}, errors.New("gateway: amount must be greater than zero")
	}
	if g.declined() {
		return dompay.GatewayOrder{}, ErrDeclined
	}
	return dompay.GatewayOrder{
		ID:       "order_" + compactID(),
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (g *Simulated) Refund(ctx context.Context, req dompay.RefundRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.TransactionID == "" || req.Amount <= 0 {
		return "", errors.New("gateway: invalid refund request")
	}
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	g.mu.Unlock()
	return "rfnd_" + compactID(), nil
}

// Capture simulates the buyer paying for a gateway order and returns the callback
// the client would forward.
func (g *Simulated) Capture(gatewayOrderID string) dompay.Callback {
	txn := "pay_" + compactID()
	return dompay.Callback{
		GatewayOrderID: gatewayOrderID,
		TransactionID:  txn,
		Signature:      dompay.Sign(g.secret, gatewayOrderID, txn),
	}
}

// Refunds returns the refunds issued so far.
func (g *Simulated) Refunds() []dompay.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]dompay.RefundRequest(nil), g.refunds...)
}

// SetDeclineRate is clamped to [0, 1].
func (g *Simulated) SetDeclineRate(rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	g.declineRate = rate
}

func (g *Simulated) declined() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.random.Float64() < g.declineRate
}

func compactID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
}
