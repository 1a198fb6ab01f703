package order

import (
	"context"
	"time"
)

type Repository interface {
	// Insert returns ErrConflict when the ID, or the (buyer, session) pair of a
	// gateway-paid order, is already stored.
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindBySession(ctx context.Context, buyerID, sessionID string) (*Order, error)
	// ApplyTransitions runs Order.Apply against the stored order as one atomic update.
	ApplyTransitions(ctx context.Context, id string, changes []Change, now time.Time) (*Order, error)
}
