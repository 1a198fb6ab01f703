package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/shipping"
)

type Method string

const (
	MethodCOD      Method = "cod"
	MethodRazorpay Method = "razorpay"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCOD, MethodRazorpay:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
	}
}

// RequiresGateway reports whether the order may only be created after the gateway
// confirms payment.
func (m Method) RequiresGateway() bool { return m != MethodCOD }

type SessionStatus string

const (
	SessionCreated    SessionStatus = "created"
	SessionAuthorized SessionStatus = "authorized"
	SessionVerified   SessionStatus = "verified"
	SessionFailed     SessionStatus = "failed"
)

// Record is written once, when a payment is verified.
type Record struct {
	Method         Method    `json:"method"`
	TransactionID  string    `json:"transactionId"`
	GatewayOrderID string    `json:"gatewayOrderId,omitempty"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	VerifiedAt     time.Time `json:"verifiedAt"`
}

// Session is the durable handle between opening a gateway order and verifying its
// callback. OrderID is assigned up front so every verifier agrees on the order it yields.
type Session struct {
	ID               string
	GatewayOrderID   string
	BuyerID          string
	OrderID          string
	Fingerprint      string
	ReservationToken string
	Draft            pricing.Draft
	ShippingAddress  shipping.Address
	Method           Method
	Amount           int64
	Currency         string
	Status           SessionStatus
	TransactionID    string
	Record           *Record
	FailureReason    string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	UpdatedAt        time.Time
}

// Open reports whether the session can still be verified.
func (s *Session) Open(now time.Time) bool {
	if s.Status != SessionCreated && s.Status != SessionAuthorized {
		return false
	}
	return now.Before(s.ExpiresAt)
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Record != nil {
		r := *s.Record
		c.Record = &r
	}
	return &c
}

// Callback is what the gateway (via the client) reports after the buyer pays.
type Callback struct {
	GatewayOrderID string
	TransactionID  string
	Signature      string
}
