package order

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	appinventory "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

type VendorStatusInput struct {
	OrderID   string
	VendorID  string
	ItemIndex int
	Status    domain.Status
}

// StatusService moves vendor sub-orders through their state machine. Each update is
// one conditional write keyed on the state the caller observed; a concurrent writer
// that got there first turns it into domain.ErrConflict.
type StatusService struct {
	orders    domain.Repository
	restock   application.UseCase[appinventory.RestockInput, int]
	publisher domoutbox.Publisher
	now       func() time.Time
	obs       application.Instruments
}

func NewStatusService(
	orders domain.Repository,
	restock application.UseCase[appinventory.RestockInput, int],
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *StatusService {
	return &StatusService{
		orders:    orders,
		restock:   restock,
		publisher: publisher,
		now:       time.Now,
		obs:       application.NewInstruments(tel, orderService),
	}
}

func (s *StatusService) UpdateVendorStatus(ctx context.Context, in VendorStatusInput) (_ *domain.Order, err error) {
	ctx, run := s.obs.Begin(ctx, useCaseVendorStatus, "UpdateVendorStatus",
		attribute.String("order.id", in.OrderID),
		attribute.String("vendor.id", in.VendorID),
		attribute.Int("order.item_index", in.ItemIndex),
		attribute.String("order.status_to", string(in.Status)),
	)
	defer func() { run.End(err) }()
	run.Annotate(observability.F("order_id", in.OrderID), observability.F("vendor_id", in.VendorID))

	if in.VendorID == "" {
		run.Fail("VENDOR_ID_REQUIRED")
		return nil, application.Validation("vendor id is required")
	}
	if _, err := domain.ParseStatus(string(in.Status)); err != nil {
		run.Fail("STATUS_UNKNOWN")
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, err)
	}

	current, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		run.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	sub, err := current.SubOrderForItem(in.ItemIndex)
	if err != nil {
		run.Fail("ITEM_NOT_FOUND")
		return nil, err
	}
	if sub.VendorID != in.VendorID {
		run.Fail("FORBIDDEN")
		return nil, domain.ErrForbidden
	}
	if !domain.CanTransition(sub.Status, in.Status) {
		run.Fail("TRANSITION_INVALID")
		return nil, &domain.InvalidTransitionError{VendorID: sub.VendorID, From: sub.Status, To: in.Status}
	}

	return s.apply(ctx, run, current.ID, []domain.Change{{VendorID: sub.VendorID, From: sub.Status, To: in.Status}})
}

// CancelByBuyer cancels every live sub-order at once. It is refused once any of
// them has shipped.
func (s *StatusService) CancelByBuyer(ctx context.Context, orderID, buyerID string) (_ *domain.Order, err error) {
	ctx, run := s.obs.Begin(ctx, useCaseBuyerCancel, "CancelOrder",
		attribute.String("order.id", orderID),
		attribute.String("buyer.id", buyerID),
	)
	defer func() { run.End(err) }()
	run.Annotate(observability.F("order_id", orderID))

	current, err := s.orders.Get(ctx, orderID)
	if err != nil {
		run.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	if current.BuyerID != buyerID {
		run.Fail("FORBIDDEN")
		return nil, domain.ErrForbidden
	}
	changes, err := current.CancelAll()
	if err != nil {
		run.Fail("TRANSITION_INVALID")
		return nil, err
	}
	return s.apply(ctx, run, current.ID, changes)
}

// apply commits the changes, then puts the stock of every cancelled sub-order back
// before returning. A restock that fails here is left to the inventory worker through
// the cancellation event, so losing that event as well is an error.
func (s *StatusService) apply(ctx context.Context, run *application.Run, orderID string, changes []domain.Change) (*domain.Order, error) {
	now := s.now()
	updated, err := s.orders.ApplyTransitions(ctx, orderID, changes, now)
	if err != nil {
		run.Fail("TRANSITION_REJECTED")
		return nil, err
	}
	run.Span().SetAttributes(attribute.String("order.status", string(updated.Status)))
	run.Annotate(observability.F("order_status", string(updated.Status)))

	events := domain.EventsFor(updated, changes, now)
	for i, e := range events {
		evt, ok := e.(domain.SubOrderCancelledEvent)
		if !ok {
			continue
		}
		evt.StockReturned = s.returnStock(ctx, run, evt)
		events[i] = evt
	}

	if s.publisher == nil {
		return updated, nil
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := domoutbox.PublishAll(pctx, s.publisher, events...); err != nil {
		run.Span().RecordError(err)
		run.Logger().Error("event_publish_failed", observability.F("error", err.Error()))
		if followUpPending(events) {
			run.Fail("FOLLOW_UP_LOST")
			return nil, &FollowUpError{OrderID: updated.ID, Err: err}
		}
	}
	return updated, nil
}

func (s *StatusService) returnStock(ctx context.Context, run *application.Run, evt domain.SubOrderCancelledEvent) bool {
	if s.restock == nil || len(evt.Lines) == 0 {
		return false
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if _, err := s.restock.Execute(cctx, appinventory.RestockInput{OrderID: evt.OrderID, VendorID: evt.VendorID, Lines: evt.Lines}); err != nil {
		run.Logger().Warn("restock_deferred",
			observability.F("vendor_id", evt.VendorID),
			observability.F("error", err.Error()),
		)
		return false
	}
	return true
}

func followUpPending(events []domoutbox.Event) bool {
	for _, e := range events {
		if evt, ok := e.(domain.SubOrderCancelledEvent); ok && evt.NeedsFollowUp() {
			return true
		}
	}
	return false
}
