package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("inventory: product not found")
	ErrInvalidQuantity     = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock   = errors.New("inventory: insufficient stock")
	ErrReservationNotFound = errors.New("inventory: reservation not found")
	// ErrReservationClosed is returned when a reservation is no longer in the state an
	// operation requires, e.g. confirming one the sweeper already expired.
	ErrReservationClosed = errors.New("inventory: reservation closed")
)

// InsufficientStockError names the first line that could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s (requested %d)", e.ProductID, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Item is a stock level as stored.
type Item struct {
	ProductID string
	Available int
	UpdatedAt time.Time
}

type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Merge folds duplicate product lines together preserving first-seen order, so a
// product appearing twice in a cart is decremented once for the combined quantity.
func Merge(lines []Line) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	pos := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if i, ok := pos[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		pos[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out, nil
}
