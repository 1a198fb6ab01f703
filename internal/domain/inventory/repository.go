package inventory

import (
	"context"
	"time"
)

// Stock is the inventory store. TryDecrement must be a single conditional update
// (never read-then-write): it succeeds only if available >= qty at the moment it applies.
type Stock interface {
	TryDecrement(ctx context.Context, productID string, qty int) (bool, error)
	Increment(ctx context.Context, productID string, qty int) error
	Available(ctx context.Context, productID string) (int, error)
}

type ReservationRepository interface {
	Insert(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, token string) (*Reservation, error)
	// Transition moves a reservation from one of the given states to next in a single
	// conditional update. It returns ErrReservationClosed when the current state is not in from.
	Transition(ctx context.Context, token string, from []ReservationStatus, next ReservationStatus, now time.Time) (*Reservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
}

// Ledger is implemented by stores that can move stock and reservation state in one
// transaction. Stores without it get the step-by-step path with compensation.
type Ledger interface {
	// ReserveAll takes every line of r out of stock and inserts r, or does nothing.
	// A shortfall returns *InsufficientStockError.
	ReserveAll(ctx context.Context, r *Reservation) error
	// CloseAndRestock is Transition plus returning the reservation's lines to stock.
	CloseAndRestock(ctx context.Context, token string, from []ReservationStatus, next ReservationStatus, now time.Time) (*Reservation, error)
	// Restock returns lines to stock all together.
	Restock(ctx context.Context, lines []Line) error
}
