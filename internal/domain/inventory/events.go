package inventory

import "time"

// ReservationExpiredEvent is published when the sweeper returns an abandoned
// reservation's stock.
type ReservationExpiredEvent struct {
	Token      string
	BuyerID    string
	Lines      []Line
	OccurredAt time.Time
}

func (ReservationExpiredEvent) EventName() string { return "inventory.reservation_expired" }

func NewReservationExpiredEvent(r *Reservation, now time.Time) ReservationExpiredEvent {
	return ReservationExpiredEvent{
		Token:      r.Token,
		BuyerID:    r.BuyerID,
		Lines:      append([]Line(nil), r.Lines...),
		OccurredAt: now.UTC(),
	}
}
