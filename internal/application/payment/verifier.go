package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

type VerifyResult struct {
	Session *dompay.Session
	// Claimed is true for exactly one verification of a session; replays of the same
	// transaction get the stored session with Claimed false.
	Claimed bool
}

// Verifier authenticates gateway callbacks and binds the payment record to its session.
type Verifier struct {
	sessions dompay.SessionRepository
	secret   string
	now      func() time.Time
	obs      application.Instruments
	outcomes observability.Counter // payment_verifications_total{outcome}
}

func NewVerifier(sessions dompay.SessionRepository, secret string, tel observability.Observability) *Verifier {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Verifier{
		sessions: sessions,
		secret:   secret,
		now:      time.Now,
		obs:      application.NewInstruments(tel, paymentService),
		outcomes: tel.Metrics().Counter(observability.MPaymentVerifications),
	}
}

func (v *Verifier) Execute(ctx context.Context, cb dompay.Callback) (*VerifyResult, error) {
	return v.Verify(ctx, cb)
}

func (v *Verifier) Verify(ctx context.Context, cb dompay.Callback) (res *VerifyResult, err error) {
	ctx, run := v.obs.Begin(ctx, useCaseVerify, "VerifyPayment",
		attribute.String("payment.gateway_order_id", cb.GatewayOrderID),
		attribute.String("payment.transaction_id", cb.TransactionID),
	)
	outcome := "verified"
	defer func() {
		v.outcomes.Add(1, observability.L("outcome", outcome))
		run.End(err)
	}()

	if cb.GatewayOrderID == "" || cb.TransactionID == "" || cb.Signature == "" {
		outcome = "invalid_request"
		run.Fail("CALLBACK_INCOMPLETE")
		return nil, application.Validation("gatewayOrderId, transactionId and signature are required")
	}
	if err := dompay.VerifySignature(v.secret, cb); err != nil {
		outcome = "invalid_signature"
		run.Fail("SIGNATURE_MISMATCH")
		return nil, err
	}

	s, err := v.sessions.GetByGatewayOrderID(ctx, cb.GatewayOrderID)
	if errors.Is(err, dompay.ErrSessionNotFound) {
		outcome = "unknown_session"
		run.Fail("SESSION_UNKNOWN")
		return nil, &dompay.UnknownSessionError{GatewayOrderID: cb.GatewayOrderID}
	}
	if err != nil {
		outcome = "error"
		run.Fail("SESSION_LOOKUP_FAILED")
		return nil, fmt.Errorf("payment: load session: %w", err)
	}
	run.Annotate(observability.F("session_id", s.ID), observability.F("order_id", s.OrderID))

	now := v.now().UTC()
	switch s.Status {
	case dompay.SessionVerified:
		return v.replay(run, &outcome, s, cb)
	case dompay.SessionFailed:
		outcome = "unknown_session"
		run.Fail("SESSION_FAILED")
		return nil, &dompay.UnknownSessionError{GatewayOrderID: cb.GatewayOrderID, Reason: "failed"}
	}
	if !now.Before(s.ExpiresAt) {
		outcome = "unknown_session"
		run.Fail("SESSION_EXPIRED")
		return nil, &dompay.UnknownSessionError{GatewayOrderID: cb.GatewayOrderID, Reason: "expired"}
	}

	rec := dompay.Record{
		Method:         s.Method,
		TransactionID:  cb.TransactionID,
		GatewayOrderID: s.GatewayOrderID,
		Amount:         s.Amount,
		Currency:       s.Currency,
		VerifiedAt:     now,
	}
	stored, claimed, err := v.sessions.Claim(ctx, cb.GatewayOrderID, rec, now)
	if err != nil {
		outcome = "error"
		run.Fail("SESSION_CLAIM_FAILED")
		return nil, fmt.Errorf("payment: claim session: %w", err)
	}
	if !claimed {
		if stored.Status != dompay.SessionVerified {
			outcome = "unknown_session"
			run.Fail("SESSION_CLOSED")
			return nil, &dompay.UnknownSessionError{GatewayOrderID: cb.GatewayOrderID, Reason: string(stored.Status)}
		}
		return v.replay(run, &outcome, stored, cb)
	}
	return &VerifyResult{Session: stored, Claimed: true}, nil
}

func (v *Verifier) replay(run *application.Run, outcome *string, s *dompay.Session, cb dompay.Callback) (*VerifyResult, error) {
	if s.TransactionID != cb.TransactionID {
		*outcome = "conflict"
		run.Fail("TRANSACTION_MISMATCH")
		return nil, dompay.ErrSessionConflict
	}
	*outcome = "replayed"
	run.Status("REPLAYED")
	return &VerifyResult{Session: s}, nil
}
