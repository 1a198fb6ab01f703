package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	paymentService     = "payment-service"
	useCaseOpenSession = "payment.open_session"
	useCaseVerify      = "payment.verify"
	useCaseRefund      = "payment.refund"
	peerGateway        = "razorpay"
)

type OpenSessionInput struct {
	BuyerID          string
	Draft            pricing.Draft
	ReservationToken string
	ShippingAddress  shipping.Address
	Method           dompay.Method
	ExpiresAt        time.Time
}

type OpenSessionResult struct {
	Session *dompay.Session
	// Reused is set when an open session for the same buyer and draft already existed;
	// the caller's reservation was not bound to it.
	Reused bool
	KeyID  string
}

// SessionManager opens gateway orders for drafts that must be paid before an order
// exists. Concurrent opens for the same buyer and draft collapse onto one session.
type SessionManager struct {
	sessions dompay.SessionRepository
	gateway  dompay.Gateway
	now      func() time.Time
	newID    func() string
	group    singleflight.Group
	obs      application.Instruments
}

func NewSessionManager(sessions dompay.SessionRepository, gateway dompay.Gateway, tel observability.Observability) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		gateway:  gateway,
		now:      time.Now,
		newID:    uuid.NewString,
		obs:      application.NewInstruments(tel, paymentService),
	}
}

// FindOpen returns the buyer's open session for the draft, or nil.
func (m *SessionManager) FindOpen(ctx context.Context, buyerID string, draft pricing.Draft) (*dompay.Session, error) {
	s, err := m.sessions.FindOpen(ctx, buyerID, draft.Fingerprint(), m.now())
	if errors.Is(err, dompay.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payment: find open session: %w", err)
	}
	return s, nil
}

func (m *SessionManager) Open(ctx context.Context, in OpenSessionInput) (_ *OpenSessionResult, err error) {
	ctx, run := m.obs.Begin(ctx, useCaseOpenSession, "OpenPaymentSession",
		attribute.String("buyer.id", in.BuyerID),
		attribute.String("payment.method", string(in.Method)),
		attribute.Int64("payment.amount", in.Draft.Total()),
	)
	defer func() { run.End(err) }()

	switch {
	case in.BuyerID == "":
		run.Fail("BUYER_ID_REQUIRED")
		return nil, application.Validation("buyer id is required")
	case in.Draft.IsZero():
		run.Fail("DRAFT_REQUIRED")
		return nil, application.Validation("draft is required")
	case !in.Method.RequiresGateway():
		run.Fail("METHOD_UNSUPPORTED")
		return nil, fmt.Errorf("%w: %s does not use the gateway", dompay.ErrUnsupportedMethod, in.Method)
	}

	fp := in.Draft.Fingerprint()
	v, err, shared := m.group.Do(in.BuyerID+"|"+fp, func() (any, error) {
		return m.open(ctx, in, fp)
	})
	if err != nil {
		run.Fail("SESSION_OPEN_FAILED")
		return nil, err
	}
	res := *v.(*OpenSessionResult)
	if shared {
		// Only one flight's reservation was bound to the session.
		res.Reused = res.Session.ReservationToken != in.ReservationToken
	}
	if res.Reused {
		run.Status("REUSED")
	}
	run.Span().SetAttributes(attribute.String("payment.gateway_order_id", res.Session.GatewayOrderID))
	run.Annotate(
		observability.F("gateway_order_id", res.Session.GatewayOrderID),
		observability.F("session_id", res.Session.ID),
	)
	return &res, nil
}

func (m *SessionManager) open(ctx context.Context, in OpenSessionInput, fp string) (*OpenSessionResult, error) {
	now := m.now().UTC()
	if existing, err := m.sessions.FindOpen(ctx, in.BuyerID, fp, now); err == nil {
		return &OpenSessionResult{Session: existing, Reused: true, KeyID: m.gateway.KeyID()}, nil
	} else if !errors.Is(err, dompay.ErrSessionNotFound) {
		return nil, fmt.Errorf("payment: find open session: %w", err)
	}

	sessionID := m.newID()
	start := time.Now()
	gw, err := m.gateway.CreateOrder(ctx, dompay.OrderRequest{
		Receipt:  sessionID,
		Amount:   in.Draft.Total(),
		Currency: in.Draft.Currency(),
	})
	m.obs.External(peerGateway, "create_order", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: create order: %w", dompay.ErrGateway, err)
	}

	expires := in.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(15 * time.Minute)
	}
	s := &dompay.Session{
		ID:               sessionID,
		GatewayOrderID:   gw.ID,
		BuyerID:          in.BuyerID,
		OrderID:          m.newID(),
		Fingerprint:      fp,
		ReservationToken: in.ReservationToken,
		Draft:            in.Draft,
		ShippingAddress:  in.ShippingAddress,
		Method:           in.Method,
		Amount:           in.Draft.Total(),
		Currency:         in.Draft.Currency(),
		Status:           dompay.SessionCreated,
		CreatedAt:        now,
		ExpiresAt:        expires.UTC(),
		UpdatedAt:        now,
	}
	err = m.sessions.Create(ctx, s)
	if errors.Is(err, dompay.ErrSessionExists) {
		// Another replica won; the gateway order we just opened is left to lapse.
		existing, ferr := m.sessions.FindOpen(ctx, in.BuyerID, fp, now)
		if ferr != nil {
			return nil, fmt.Errorf("payment: reload open session: %w", ferr)
		}
		return &OpenSessionResult{Session: existing, Reused: true, KeyID: m.gateway.KeyID()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payment: store session: %w", err)
	}
	return &OpenSessionResult{Session: s, KeyID: m.gateway.KeyID()}, nil
}

// Fail closes a session that can no longer produce an order.
func (m *SessionManager) Fail(ctx context.Context, gatewayOrderID, reason string) error {
	if err := m.sessions.MarkFailed(ctx, gatewayOrderID, reason, m.now()); err != nil {
		return fmt.Errorf("payment: mark session failed: %w", err)
	}
	return nil
}

func (m *SessionManager) KeyID() string { return m.gateway.KeyID() }
