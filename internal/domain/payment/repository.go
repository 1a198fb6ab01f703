package payment

import (
	"context"
	"time"
)

type SessionRepository interface {
	// Create stores a new session. It returns ErrSessionExists when an open session for
	// the same buyer and fingerprint is already stored.
	Create(ctx context.Context, s *Session) error
	FindOpen(ctx context.Context, buyerID, fingerprint string, now time.Time) (*Session, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Session, error)
	// Claim atomically moves a created or authorized session to verified, binding rec.
	// Exactly one caller observes claimed=true; everyone else gets the stored session.
	Claim(ctx context.Context, gatewayOrderID string, rec Record, now time.Time) (s *Session, claimed bool, err error)
	MarkFailed(ctx context.Context, gatewayOrderID, reason string, now time.Time) error
}

type OrderRequest struct {
	Receipt  string
	Amount   int64
	Currency string
}

type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
}

type RefundRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	Reason        string
}

// Gateway is the external payment processor.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
	Refund(ctx context.Context, req RefundRequest) (refundID string, err error)
	KeyID() string
}
