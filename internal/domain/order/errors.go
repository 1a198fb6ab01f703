package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("order: not found")
	ErrConflict  = errors.New("order: conflict")
	ErrForbidden = errors.New("order: caller does not own this order")
	// ErrInvalidTransition matches every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrUnknownStatus     = errors.New("order: unknown status")
	ErrItemNotFound      = errors.New("order: item index out of range")
	ErrInvalidOrder      = errors.New("order: invalid order")
)

type InvalidTransitionError struct {
	VendorID string
	From     Status
	To       Status
}

func (e *InvalidTransitionError) Error() string {
	if e.VendorID == "" {
		return fmt.Sprintf("order: cannot move from %s to %s", e.From, e.To)
	}
	return fmt.Sprintf("order: cannot move vendor %s sub-order from %s to %s", e.VendorID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
