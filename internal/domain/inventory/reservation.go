package inventory

import "time"

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is stock taken out of circulation for one checkout. Stock is decremented
// when the reservation is created; it returns to circulation on release or expiry.
type Reservation struct {
	Token     string
	BuyerID   string
	Lines     []Line
	Status    ReservationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
}

func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationHeld && !now.Before(r.ExpiresAt)
}

// Open reports whether the reservation still holds stock.
func (r *Reservation) Open() bool {
	return r.Status == ReservationHeld || r.Status == ReservationConfirmed
}

func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	c.Lines = append([]Line(nil), r.Lines...)
	return &c
}
