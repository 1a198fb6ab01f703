package order

import (
	"context"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const (
	notificationWorker = "notification_worker"

	RoleBuyer  = "buyer"
	RoleVendor = "vendor"

	KindOrderPlaced   = "order_placed"
	KindNewOrder      = "new_order"
	KindStatusChanged = "status_changed"
)

type Notification struct {
	Recipient string
	Role      string
	Kind      string
	OrderID   string
	VendorID  string
	Status    domain.Status
}

// Notifier delivers order updates to buyers and vendors.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the event-scoped log. It stands in for email or
// push channels.
type LogNotifier struct {
	log observability.Logger
}

func NewLogNotifier(tel observability.Observability) *LogNotifier {
	if tel == nil {
		tel = observability.Nop()
	}
	return &LogNotifier{log: tel.Logger()}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	logctx.FromOr(ctx, n.log).Info("order_notification",
		observability.F("recipient", note.Recipient),
		observability.F("role", note.Role),
		observability.F("kind", note.Kind),
		observability.F("order_id", note.OrderID),
		observability.F("vendor_id", note.VendorID),
		observability.F("status", string(note.Status)),
	)
	return nil
}

// NotificationWorker tells buyers and vendors about placed orders and sub-order
// status changes.
type NotificationWorker struct {
	repo       domain.Repository
	subscriber domoutbox.Subscriber
	notifier   Notifier
	log        observability.Logger
}

func NewNotificationWorker(repo domain.Repository, subscriber domoutbox.Subscriber, notifier Notifier, tel observability.Observability) *NotificationWorker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &NotificationWorker{
		repo:       repo,
		subscriber: subscriber,
		notifier:   notifier,
		log:        tel.Logger().With(observability.F("service", notificationWorker)),
	}
}

func (w *NotificationWorker) Start() {
	if w.subscriber == nil || w.repo == nil || w.notifier == nil {
		return
	}
	w.subscriber.Subscribe(domain.PlacedEvent{}.EventName(), w.handlePlaced)
	w.subscriber.Subscribe(domain.StatusChangedEvent{}.EventName(), w.handleStatusChanged)
}

func (w *NotificationWorker) handlePlaced(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domain.PlacedEvent)
	if !ok {
		return nil
	}
	ctx, _ = logctx.Enrich(ctx, w.log, observability.F("order_id", evt.OrderID))

	notes := make([]Notification, 0, len(evt.Vendors)+1)
	notes = append(notes, Notification{
		Recipient: evt.BuyerID, Role: RoleBuyer, Kind: KindOrderPlaced, OrderID: evt.OrderID, Status: domain.StatusPending,
	})
	for _, v := range evt.Vendors {
		notes = append(notes, Notification{
			Recipient: v, Role: RoleVendor, Kind: KindNewOrder, OrderID: evt.OrderID, VendorID: v, Status: domain.StatusPending,
		})
	}
	return w.send(ctx, notes)
}

// handleStatusChanged skips events a later transition has already overtaken, so a
// buyer never sees statuses arrive out of order.
func (w *NotificationWorker) handleStatusChanged(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domain.StatusChangedEvent)
	if !ok {
		return nil
	}
	ctx, logger := logctx.Enrich(ctx, w.log,
		observability.F("order_id", evt.OrderID),
		observability.F("vendor_id", evt.VendorID),
	)

	ord, err := w.repo.Get(ctx, evt.OrderID)
	if err != nil {
		logger.Error("order_load_failed", observability.F("error", err))
		return fmt.Errorf("notification worker: find order: %w", err)
	}
	if sub, ok := ord.SubOrder(evt.VendorID); !ok || sub.Status != evt.To {
		logger.Debug("notification_superseded", observability.F("to", string(evt.To)))
		return nil
	}

	return w.send(ctx, []Notification{{
		Recipient: evt.BuyerID,
		Role:      RoleBuyer,
		Kind:      KindStatusChanged,
		OrderID:   evt.OrderID,
		VendorID:  evt.VendorID,
		Status:    evt.To,
	}})
}

func (w *NotificationWorker) send(ctx context.Context, notes []Notification) error {
	for _, n := range notes {
		if err := w.notifier.Notify(ctx, n); err != nil {
			logctx.FromOr(ctx, w.log).Warn("notification_failed",
				observability.F("recipient", n.Recipient),
				observability.F("kind", n.Kind),
				observability.F("error", err),
			)
			return fmt.Errorf("notification worker: notify %s: %w", n.Recipient, err)
		}
	}
	return nil
}
