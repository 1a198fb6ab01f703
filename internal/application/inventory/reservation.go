package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
)

const (
	inventoryService  = "inventory-service"
	useCaseReserve    = "inventory.reserve"
	useCaseRelease    = "inventory.release"
	useCaseConfirm    = "inventory.confirm"
	useCaseSweep      = "inventory.sweep"
	useCaseRestock    = "inventory.restock"
	DefaultTTL        = 15 * time.Minute
	sweepBatch        = 100
	compensateTimeout = 5 * time.Second
)

// ReservationManager takes stock out of circulation for a checkout and puts it back
// when the checkout does not complete.
type ReservationManager struct {
	stock        domain.Stock
	reservations domain.ReservationRepository
	ledger       domain.Ledger // nil when the store cannot do it transactionally
	publisher    domoutbox.Publisher
	ttl          time.Duration
	batch        int
	now          func() time.Time
	newToken     func() string
	obs          application.Instruments
	outcomes     observability.Counter // stock_reservations_total{outcome}
}

func NewReservationManager(
	stock domain.Stock,
	reservations domain.ReservationRepository,
	publisher domoutbox.Publisher,
	ttl time.Duration,
	tel observability.Observability,
) *ReservationManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if tel == nil {
		tel = observability.Nop()
	}
	m := &ReservationManager{
		stock:        stock,
		reservations: reservations,
		publisher:    publisher,
		ttl:          ttl,
		batch:        sweepBatch,
		now:          time.Now,
		newToken:     func() string { return ulid.Make().String() },
		obs:          application.NewInstruments(tel, inventoryService),
		outcomes:     tel.Metrics().Counter(observability.MStockReservations),
	}
	if l, ok := reservations.(domain.Ledger); ok {
		m.ledger = l
	}
	return m
}

// Reserve decrements stock for every draft line or for none. A Ledger store does it
// in one transaction together with the reservation insert. Otherwise each decrement
// is a single conditional update and, on the first shortfall, the lines already
// taken are put back before *domain.InsufficientStockError is returned.
func (m *ReservationManager) Reserve(ctx context.Context, buyerID string, draft pricing.Draft) (_ *domain.Reservation, err error) {
	ctx, run := m.obs.Begin(ctx, useCaseReserve, "ReserveStock",
		attribute.String("buyer.id", buyerID),
		attribute.Int("draft.lines", draft.Len()),
	)
	defer func() { run.End(err) }()

	requested := make([]domain.Line, 0, draft.Len())
	for _, l := range draft.Lines() {
		requested = append(requested, domain.Line{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	lines, err := domain.Merge(requested)
	if err != nil {
		run.Fail("QUANTITY_INVALID")
		return nil, err
	}
	if len(lines) == 0 {
		run.Fail("NOTHING_TO_RESERVE")
		return nil, application.Validation("draft has no lines")
	}

	now := m.now().UTC()
	res := &domain.Reservation{
		Token:     m.newToken(),
		BuyerID:   buyerID,
		Lines:     lines,
		Status:    domain.ReservationHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		UpdatedAt: now,
	}
	if m.ledger != nil {
		err = m.ledger.ReserveAll(ctx, res)
	} else {
		err = m.reserveSteps(ctx, run, res)
	}
	var short *domain.InsufficientStockError
	switch {
	case errors.As(err, &short):
		m.outcomes.Add(1, observability.L("outcome", "insufficient"))
		run.Fail("INSUFFICIENT_STOCK")
		run.Annotate(observability.F("product_id", short.ProductID))
		return nil, err
	case err != nil:
		m.outcomes.Add(1, observability.L("outcome", "error"))
		run.Fail("RESERVE_FAILED")
		return nil, fmt.Errorf("inventory: reserve: %w", err)
	}

	m.outcomes.Add(1, observability.L("outcome", "reserved"))
	run.Span().SetAttributes(attribute.String("reservation.token", res.Token))
	run.Annotate(observability.F("reservation_token", res.Token))
	return res, nil
}

func (m *ReservationManager) reserveSteps(ctx context.Context, run *application.Run, res *domain.Reservation) error {
	taken := make([]domain.Line, 0, len(res.Lines))
	for _, l := range res.Lines {
		ok, derr := m.stock.TryDecrement(ctx, l.ProductID, l.Quantity)
		if derr != nil {
			m.putBack(ctx, run.Logger(), taken)
			return fmt.Errorf("decrement %s: %w", l.ProductID, derr)
		}
		if !ok {
			m.putBack(ctx, run.Logger(), taken)
			return &domain.InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
		}
		taken = append(taken, l)
	}
	if err := m.reservations.Insert(ctx, res); err != nil {
		m.putBack(ctx, run.Logger(), taken)
		return fmt.Errorf("persist reservation: %w", err)
	}
	return nil
}

// Release returns a reservation's stock. Releasing a reservation that was already
// released or expired is a no-op.
func (m *ReservationManager) Release(ctx context.Context, token, reason string) (err error) {
	ctx, run := m.obs.Begin(ctx, useCaseRelease, "ReleaseStock", attribute.String("reservation.token", token))
	defer func() { run.End(err) }()
	run.Annotate(observability.F("reservation_token", token), observability.F("reason", reason))

	_, err = m.close(ctx, token,
		[]domain.ReservationStatus{domain.ReservationHeld, domain.ReservationConfirmed},
		domain.ReservationReleased, m.now())
	if errors.Is(err, domain.ErrReservationClosed) {
		run.Status("ALREADY_CLOSED")
		return nil
	}
	if err != nil {
		run.Fail("RELEASE_FAILED")
		return fmt.Errorf("inventory: release %s: %w", token, err)
	}
	return nil
}

// Confirm marks the reservation as consumed by a committed order. A reservation past
// its expiry is expired on the spot and ErrReservationClosed is returned.
func (m *ReservationManager) Confirm(ctx context.Context, token string) (err error) {
	ctx, run := m.obs.Begin(ctx, useCaseConfirm, "ConfirmStock", attribute.String("reservation.token", token))
	defer func() { run.End(err) }()

	res, err := m.reservations.Get(ctx, token)
	if err != nil {
		run.Fail("RESERVATION_LOOKUP_FAILED")
		return fmt.Errorf("inventory: confirm %s: %w", token, err)
	}
	now := m.now()
	if res.IsExpired(now) {
		if _, err := m.expire(ctx, res, now); err != nil {
			run.Logger().Warn("reservation_expire_failed", observability.F("error", err))
		}
		run.Fail("RESERVATION_EXPIRED")
		return fmt.Errorf("inventory: confirm %s: %w", token, domain.ErrReservationClosed)
	}
	if _, err := m.reservations.Transition(ctx, token,
		[]domain.ReservationStatus{domain.ReservationHeld}, domain.ReservationConfirmed, now); err != nil {
		run.Fail("RESERVATION_TRANSITION_FAILED")
		return fmt.Errorf("inventory: confirm %s: %w", token, err)
	}
	return nil
}

// SweepExpired expires held reservations past their deadline and returns their stock.
// It keeps listing while full batches come back, so a backlog clears in one call.
func (m *ReservationManager) SweepExpired(ctx context.Context) (n int, err error) {
	ctx, run := m.obs.Begin(ctx, useCaseSweep, "SweepReservations")
	defer func() {
		run.Annotate(observability.F("expired", n))
		run.End(err)
	}()

	now := m.now()
	for ctx.Err() == nil {
		expired, err := m.reservations.ListExpired(ctx, now, m.batch)
		if err != nil {
			run.Fail("RESERVATION_LIST_FAILED")
			return n, fmt.Errorf("inventory: list expired: %w", err)
		}
		var errs []error
		for _, res := range expired {
			ok, err := m.expire(ctx, res, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				n++
			}
		}
		if len(errs) > 0 {
			run.Fail("SWEEP_PARTIAL")
			return n, errors.Join(errs...)
		}
		if len(expired) < m.batch {
			break
		}
	}
	return n, nil
}

// expire reports false when someone else closed the reservation first.
func (m *ReservationManager) expire(ctx context.Context, res *domain.Reservation, now time.Time) (bool, error) {
	closed, err := m.close(ctx, res.Token,
		[]domain.ReservationStatus{domain.ReservationHeld}, domain.ReservationExpired, now)
	if errors.Is(err, domain.ErrReservationClosed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inventory: expire %s: %w", res.Token, err)
	}
	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, domain.NewReservationExpiredEvent(closed, now)); err != nil {
			m.obs.Logger().Warn("event_publish_failed",
				observability.F("event", domain.ReservationExpiredEvent{}.EventName()),
				observability.F("error", err),
			)
		}
	}
	return true, nil
}

// close moves a reservation to a terminal state and returns its stock. Without a
// Ledger the stock is restored after the state change commits.
func (m *ReservationManager) close(ctx context.Context, token string, from []domain.ReservationStatus, next domain.ReservationStatus, now time.Time) (*domain.Reservation, error) {
	if m.ledger != nil {
		return m.ledger.CloseAndRestock(ctx, token, from, next, now)
	}
	res, err := m.reservations.Transition(ctx, token, from, next, now)
	if err != nil {
		return nil, err
	}
	if err := m.restore(ctx, res.Lines); err != nil {
		return nil, err
	}
	return res, nil
}

func (m *ReservationManager) restore(ctx context.Context, lines []domain.Line) error {
	if m.ledger != nil {
		if err := m.ledger.Restock(ctx, lines); err != nil {
			return fmt.Errorf("inventory: restore: %w", err)
		}
		return nil
	}
	var errs []error
	for _, l := range lines {
		if err := m.stock.Increment(ctx, l.ProductID, l.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("inventory: restore %s: %w", l.ProductID, err))
		}
	}
	return errors.Join(errs...)
}

// putBack undoes decrements of a reservation that failed part way. It must run even
// when the caller's context is already cancelled.
func (m *ReservationManager) putBack(ctx context.Context, logger observability.Logger, lines []domain.Line) {
	if len(lines) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := m.restore(cctx, lines); err != nil {
		logger.Error("stock_compensation_failed", observability.F("error", err))
	}
}

type RestockInput struct {
	OrderID  string
	VendorID string
	Lines    []domain.Line
}

// Restocker returns stock held by a cancelled sub-order of a committed order.
type Restocker struct{ m *ReservationManager }

func (m *ReservationManager) Restocker() *Restocker { return &Restocker{m: m} }

// Execute returns the number of units put back.
func (r *Restocker) Execute(ctx context.Context, in RestockInput) (units int, err error) {
	ctx, run := r.m.obs.Begin(ctx, useCaseRestock, "Restock",
		attribute.String("order.id", in.OrderID),
		attribute.String("vendor.id", in.VendorID),
	)
	defer func() { run.End(err) }()

	for _, l := range in.Lines {
		units += l.Quantity
	}
	if err := r.m.restore(ctx, in.Lines); err != nil {
		run.Fail("STOCK_RESTORE_FAILED")
		return 0, err
	}
	run.Annotate(observability.F("units", units))
	return units, nil
}
