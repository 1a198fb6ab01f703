package order

import (
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
)

type PlacedEvent struct {
	OrderID    string
	BuyerID    string
	Method     string
	Total      int64
	Currency   string
	Vendors    []string
	OccurredAt time.Time
}

func (PlacedEvent) EventName() string { return "order.placed" }

func NewPlacedEvent(o *Order) PlacedEvent {
	vendors := make([]string, 0, len(o.SubOrders))
	for _, s := range o.SubOrders {
		vendors = append(vendors, s.VendorID)
	}
	return PlacedEvent{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		Method:     string(o.PaymentMethod),
		Total:      o.Draft.Total(),
		Currency:   o.Draft.Currency(),
		Vendors:    vendors,
		OccurredAt: o.CreatedAt,
	}
}

// StatusChangedEvent is emitted for every sub-order transition. Notification
// channels hang off it.
type StatusChangedEvent struct {
	OrderID     string
	BuyerID     string
	VendorID    string
	From        Status
	To          Status
	OrderStatus Status
	OccurredAt  time.Time
}

func (StatusChangedEvent) EventName() string { return "order.status_changed" }

// SubOrderCancelledEvent carries what must be undone when a sub-order is cancelled:
// stock to return and, for paid orders, the amount to refund.
type SubOrderCancelledEvent struct {
	OrderID       string
	BuyerID       string
	VendorID      string
	Lines         []inventory.Line
	RefundAmount  int64
	TransactionID string
	Currency      string
	// StockReturned is set once Lines are back in stock; consumers must not restock again.
	StockReturned bool
	OccurredAt    time.Time
}

// NeedsFollowUp reports whether a consumer still has stock or money to give back.
func (e SubOrderCancelledEvent) NeedsFollowUp() bool {
	return !e.StockReturned || e.RefundAmount > 0
}

func (SubOrderCancelledEvent) EventName() string { return "order.suborder_cancelled" }

// EventsFor derives the events produced by applying changes to o (o must already
// reflect them).
func EventsFor(o *Order, changes []Change, now time.Time) []outbox.Event {
	out := make([]outbox.Event, 0, len(changes)*2)
	refunds := o.Refunds(changes)
	for _, c := range changes {
		out = append(out, StatusChangedEvent{
			OrderID:     o.ID,
			BuyerID:     o.BuyerID,
			VendorID:    c.VendorID,
			From:        c.From,
			To:          c.To,
			OrderStatus: o.Status,
			OccurredAt:  now.UTC(),
		})
		if c.To != StatusCancelled {
			continue
		}
		ev := SubOrderCancelledEvent{
			OrderID:    o.ID,
			BuyerID:    o.BuyerID,
			VendorID:   c.VendorID,
			Lines:      o.StockLines(c.VendorID),
			Currency:   o.Draft.Currency(),
			OccurredAt: now.UTC(),
		}
		if o.Payment != nil {
			ev.RefundAmount = refunds[c.VendorID]
			ev.TransactionID = o.Payment.TransactionID
		}
		out = append(out, ev)
	}
	return out
}
