package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	apppayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	dominventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/shipping"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	orderService          = "order-service"
	useCaseCheckout       = "order.checkout"
	useCasePlace          = "order.place"
	useCaseConfirmPayment = "order.confirm_payment"
	useCaseGet            = "order.get"
	useCaseVendorStatus   = "order.vendor_status"
	useCaseBuyerCancel    = "order.buyer_cancel"
	publishTimeout        = 300 * time.Millisecond
	compensateTimeout     = 5 * time.Second
)

// DraftBuilder prices the buyer's server-side cart and clears it once an order commits.
type DraftBuilder interface {
	Execute(ctx context.Context, buyerID string) (pricing.Draft, error)
	Clear(ctx context.Context, buyerID string) error
}

type StockReserver interface {
	Reserve(ctx context.Context, buyerID string, draft pricing.Draft) (*dominventory.Reservation, error)
	Release(ctx context.Context, token, reason string) error
	Confirm(ctx context.Context, token string) error
}

type SessionOpener interface {
	FindOpen(ctx context.Context, buyerID string, draft pricing.Draft) (*dompay.Session, error)
	Open(ctx context.Context, in apppayment.OpenSessionInput) (*apppayment.OpenSessionResult, error)
	Fail(ctx context.Context, gatewayOrderID, reason string) error
	KeyID() string
}

type PaymentVerifier interface {
	Verify(ctx context.Context, cb dompay.Callback) (*apppayment.VerifyResult, error)
}

type CheckoutInput struct {
	BuyerID         string
	Method          dompay.Method
	ShippingAddress shipping.Address
	// ExpectedTotal and ExpectedCurrency are what the client displayed; zero values
	// skip the check.
	ExpectedTotal    int64
	ExpectedCurrency string
}

type PlaceOrderInput struct {
	BuyerID         string
	Draft           pricing.Draft
	Method          dompay.Method
	ShippingAddress shipping.Address
}

// PlaceOrderResult carries the committed order for immediate-settlement methods, or
// the open payment session for gateway methods.
type PlaceOrderResult struct {
	Order   *domain.Order
	Session *dompay.Session
	KeyID   string
}

type ConfirmPaymentInput struct {
	BuyerID  string
	Callback dompay.Callback
	// ShippingAddress, when set, replaces the address captured when the session opened.
	ShippingAddress *shipping.Address
}

type ConfirmPaymentResult struct {
	Order *domain.Order
	// Replayed is set when the order was committed by an earlier confirmation.
	Replayed bool
}

// Orchestrator drives a checkout from priced draft to committed order.
type Orchestrator struct {
	drafts    DraftBuilder
	stock     StockReserver
	sessions  SessionOpener
	verifier  PaymentVerifier
	orders    domain.Repository
	publisher domoutbox.Publisher
	now       func() time.Time
	newID     func() string
	obs       application.Instruments
}

func NewOrchestrator(
	drafts DraftBuilder,
	stock StockReserver,
	sessions SessionOpener,
	verifier PaymentVerifier,
	orders domain.Repository,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *Orchestrator {
	return &Orchestrator{
		drafts:    drafts,
		stock:     stock,
		sessions:  sessions,
		verifier:  verifier,
		orders:    orders,
		publisher: publisher,
		now:       time.Now,
		newID:     uuid.NewString,
		obs:       application.NewInstruments(tel, orderService),
	}
}

// Checkout prices the buyer's cart and places the order.
func (o *Orchestrator) Checkout(ctx context.Context, in CheckoutInput) (_ *PlaceOrderResult, err error) {
	ctx, run := o.obs.Begin(ctx, useCaseCheckout, "Checkout",
		attribute.String("buyer.id", in.BuyerID),
		attribute.String("payment.method", string(in.Method)),
	)
	defer func() { run.End(err) }()

	draft, err := o.drafts.Execute(ctx, in.BuyerID)
	if err != nil {
		run.Fail("DRAFT_FAILED")
		return nil, err
	}
	if in.ExpectedTotal > 0 && in.ExpectedTotal != draft.Total() {
		run.Fail("TOTAL_MISMATCH")
		return nil, &pricing.StaleCartError{Reason: pricing.ReasonTotalMismatch, Quoted: in.ExpectedTotal, Current: draft.Total()}
	}
	if in.ExpectedCurrency != "" && !strings.EqualFold(in.ExpectedCurrency, draft.Currency()) {
		run.Fail("CURRENCY_MISMATCH")
		return nil, &pricing.StaleCartError{Reason: pricing.ReasonCurrencyMismatch, Current: draft.Total(), Currency: draft.Currency()}
	}
	return o.PlaceOrder(ctx, PlaceOrderInput{
		BuyerID:         in.BuyerID,
		Draft:           draft,
		Method:          in.Method,
		ShippingAddress: in.ShippingAddress,
	})
}

func (o *Orchestrator) PlaceOrder(ctx context.Context, in PlaceOrderInput) (_ *PlaceOrderResult, err error) {
	ctx, run := o.obs.Begin(ctx, useCasePlace, "PlaceOrder",
		attribute.String("buyer.id", in.BuyerID),
		attribute.String("payment.method", string(in.Method)),
		attribute.Int64("draft.total", in.Draft.Total()),
	)
	defer func() { run.End(err) }()

	switch {
	case in.BuyerID == "":
		run.Fail("BUYER_ID_REQUIRED")
		return nil, application.Validation("buyer id is required")
	case in.Draft.IsZero():
		run.Fail("DRAFT_REQUIRED")
		return nil, application.Validation("draft is required")
	}
	if _, err := dompay.ParseMethod(string(in.Method)); err != nil {
		run.Fail("METHOD_UNSUPPORTED")
		return nil, err
	}
	if err := in.ShippingAddress.Validate(); err != nil {
		run.Fail("ADDRESS_INVALID")
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, err)
	}

	if in.Method.RequiresGateway() {
		// A retried checkout of the same draft resumes the open session.
		existing, err := o.sessions.FindOpen(ctx, in.BuyerID, in.Draft)
		if err != nil {
			run.Fail("SESSION_LOOKUP_FAILED")
			return nil, err
		}
		if existing != nil {
			run.Status("SESSION_REUSED")
			return &PlaceOrderResult{Session: existing, KeyID: o.sessions.KeyID()}, nil
		}
	}

	res, err := o.stock.Reserve(ctx, in.BuyerID, in.Draft)
	if err != nil {
		run.Fail("RESERVE_FAILED")
		return nil, err
	}
	run.Annotate(observability.F("reservation_token", res.Token))

	if in.Method.RequiresGateway() {
		opened, err := o.sessions.Open(ctx, apppayment.OpenSessionInput{
			BuyerID:          in.BuyerID,
			Draft:            in.Draft,
			ReservationToken: res.Token,
			ShippingAddress:  in.ShippingAddress,
			Method:           in.Method,
			ExpiresAt:        res.ExpiresAt,
		})
		if err != nil {
			o.release(ctx, run.Logger(), res.Token, "session_open_failed")
			run.Fail("SESSION_OPEN_FAILED")
			return nil, &PaymentFailedError{Err: err}
		}
		if opened.Reused {
			o.release(ctx, run.Logger(), res.Token, "session_reused")
			run.Status("SESSION_REUSED")
		}
		run.Annotate(observability.F("gateway_order_id", opened.Session.GatewayOrderID))
		return &PlaceOrderResult{Session: opened.Session, KeyID: opened.KeyID}, nil
	}

	ord, err := o.commit(ctx, run, domain.NewParams{
		ID:               o.newID(),
		BuyerID:          in.BuyerID,
		ReservationToken: res.Token,
		Draft:            in.Draft,
		Method:           in.Method,
		ShippingAddress:  in.ShippingAddress,
		Now:              o.now(),
	})
	if errors.Is(err, dominventory.ErrReservationClosed) {
		return nil, &OrderPersistError{Err: err}
	}
	if err != nil {
		return nil, err
	}
	return &PlaceOrderResult{Order: ord}, nil
}

// ConfirmPayment verifies a gateway callback and commits the order the session was
// opened for. Duplicate callbacks for the same transaction return the same order.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (_ *ConfirmPaymentResult, err error) {
	ctx, run := o.obs.Begin(ctx, useCaseConfirmPayment, "ConfirmPayment",
		attribute.String("buyer.id", in.BuyerID),
		attribute.String("payment.gateway_order_id", in.Callback.GatewayOrderID),
	)
	defer func() { run.End(err) }()

	if in.ShippingAddress != nil {
		if err := in.ShippingAddress.Validate(); err != nil {
			run.Fail("ADDRESS_INVALID")
			return nil, fmt.Errorf("%w: %w", application.ErrValidation, err)
		}
	}

	verified, err := o.verifier.Verify(ctx, in.Callback)
	if err != nil {
		switch {
		case errors.Is(err, dompay.ErrInvalidSignature):
			// The session stays open; a forged callback must not cancel the real checkout.
			// Its stock comes back through the expiry sweep if no valid callback follows.
			run.Logger().Warn("payment_signature_rejected", observability.F("gateway_order_id", in.Callback.GatewayOrderID))
			run.Fail("SIGNATURE_INVALID")
			return nil, &PaymentFailedError{GatewayOrderID: in.Callback.GatewayOrderID, Err: err}
		case errors.Is(err, dompay.ErrUnknownSession):
			run.Fail("SESSION_UNKNOWN")
			return nil, &PaymentFailedError{GatewayOrderID: in.Callback.GatewayOrderID, Err: err}
		default:
			run.Fail("VERIFY_FAILED")
			return nil, err
		}
	}
	s := verified.Session
	run.Annotate(observability.F("order_id", s.OrderID), observability.F("claimed", verified.Claimed))
	if s.BuyerID != in.BuyerID {
		run.Fail("BUYER_MISMATCH")
		return nil, domain.ErrForbidden
	}

	if !verified.Claimed {
		ord, err := o.orders.Get(ctx, s.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			run.Fail("VERIFICATION_IN_PROGRESS")
			return nil, ErrVerificationInProgress
		}
		if err != nil {
			run.Fail("ORDER_LOOKUP_FAILED")
			return nil, err
		}
		run.Status("REPLAYED")
		return &ConfirmPaymentResult{Order: ord, Replayed: true}, nil
	}

	shipTo := s.ShippingAddress
	if in.ShippingAddress != nil {
		shipTo = *in.ShippingAddress
	}
	ord, err := o.commit(ctx, run, domain.NewParams{
		ID:               s.OrderID,
		BuyerID:          s.BuyerID,
		SessionID:        s.ID,
		ReservationToken: s.ReservationToken,
		Draft:            s.Draft,
		Method:           s.Method,
		Payment:          s.Record,
		ShippingAddress:  shipTo,
		Now:              o.now(),
	})
	if err != nil {
		reason := "order_persist_failed"
		switch {
		case errors.Is(err, dominventory.ErrReservationClosed):
			// Paid after the reservation window closed; the stock may already be sold.
			reason = "reservation_closed"
			err = &PaymentFailedError{GatewayOrderID: s.GatewayOrderID, Err: err}
		case errors.Is(err, domain.ErrInvalidOrder):
			reason = "order_invalid"
		}
		o.abandonPaid(ctx, run.Logger(), s, reason)
		return nil, err
	}
	return &ConfirmPaymentResult{Order: ord}, nil
}

// commit confirms the reservation, inserts the order and runs post-commit effects.
// The reservation is released again if the insert fails.
func (o *Orchestrator) commit(ctx context.Context, run *application.Run, p domain.NewParams) (*domain.Order, error) {
	ord, err := domain.New(p)
	if err != nil {
		o.release(ctx, run.Logger(), p.ReservationToken, "order_invalid")
		run.Fail("ORDER_INVALID")
		return nil, err
	}

	if err := o.stock.Confirm(ctx, p.ReservationToken); err != nil {
		if errors.Is(err, dominventory.ErrReservationClosed) {
			run.Fail("RESERVATION_CLOSED")
			return nil, err
		}
		o.release(ctx, run.Logger(), p.ReservationToken, "confirm_failed")
		run.Fail("RESERVATION_CONFIRM_FAILED")
		return nil, &OrderPersistError{OrderID: ord.ID, Err: err}
	}

	if err := o.orders.Insert(ctx, ord); err != nil {
		o.release(ctx, run.Logger(), p.ReservationToken, "order_persist_failed")
		run.Fail("ORDER_PERSIST_FAILED")
		return nil, &OrderPersistError{OrderID: ord.ID, Err: err}
	}
	run.Span().SetAttributes(attribute.String("order.id", ord.ID))
	run.Annotate(observability.F("order_id", ord.ID), observability.F("sub_orders", len(ord.SubOrders)))

	if err := o.drafts.Clear(ctx, ord.BuyerID); err != nil {
		run.Logger().Warn("cart_clear_failed", observability.F("order_id", ord.ID), observability.F("error", err))
		run.Status("CART_CLEAR_FAILED")
	}
	o.publish(ctx, run, domain.NewPlacedEvent(ord))
	return ord, nil
}

// abandonPaid closes a verified session whose order could not be committed and asks
// for the captured amount back.
func (o *Orchestrator) abandonPaid(ctx context.Context, logger observability.Logger, s *dompay.Session, reason string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := o.sessions.Fail(cctx, s.GatewayOrderID, reason); err != nil {
		logger.Error("session_fail_failed", observability.F("gateway_order_id", s.GatewayOrderID), observability.F("error", err))
	}
	if s.Record == nil {
		return
	}
	evt := dompay.RefundRequestedEvent{
		OrderID:       s.OrderID,
		TransactionID: s.Record.TransactionID,
		Amount:        s.Record.Amount,
		Currency:      s.Record.Currency,
		Reason:        reason,
		OccurredAt:    o.now().UTC(),
	}
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(cctx, evt); err != nil {
		logger.Error("refund_request_failed",
			observability.F("gateway_order_id", s.GatewayOrderID),
			observability.F("transaction_id", s.Record.TransactionID),
			observability.F("error", err),
		)
	}
}

func (o *Orchestrator) release(ctx context.Context, logger observability.Logger, token, reason string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := o.stock.Release(cctx, token, reason); err != nil {
		logger.Error("reservation_release_failed",
			observability.F("reservation_token", token),
			observability.F("reason", reason),
			observability.F("error", err),
		)
	}
}

// publish is best-effort; the order is already committed.
func (o *Orchestrator) publish(ctx context.Context, run *application.Run, events ...domoutbox.Event) {
	if o.publisher == nil || len(events) == 0 {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := domoutbox.PublishAll(pctx, o.publisher, events...); err != nil {
		run.Span().RecordError(err)
		run.Logger().Warn("event_publish_failed", observability.F("error", err.Error()))
	}
}

// Get returns an order owned by buyerID.
func (o *Orchestrator) Get(ctx context.Context, orderID, buyerID string) (_ *domain.Order, err error) {
	ctx, run := o.obs.Begin(ctx, useCaseGet, "GetOrder", attribute.String("order.id", orderID))
	defer func() { run.End(err) }()

	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		run.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	if buyerID != "" && ord.BuyerID != buyerID {
		run.Fail("FORBIDDEN")
		return nil, domain.ErrForbidden
	}
	return ord, nil
}
