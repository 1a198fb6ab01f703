package order

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentFailed = errors.New("order: payment failed")
	ErrOrderPersist  = errors.New("order: could not persist order")
	// ErrVerificationInProgress is returned to a duplicate payment confirmation that
	// arrives while the winning one is still committing the order. Retrying is safe.
	ErrVerificationInProgress = errors.New("order: payment verification in progress")
	ErrFollowUpFailed         = errors.New("order: cancellation follow-up failed")
)

// PaymentFailedError means no order was created and the reserved stock was released
// (or will be by the expiry sweep).
type PaymentFailedError struct {
	GatewayOrderID string
	Err            error
}

func (e *PaymentFailedError) Error() string {
	if e.GatewayOrderID == "" {
		return fmt.Sprintf("order: payment failed: %v", e.Err)
	}
	return fmt.Sprintf("order: payment for %s failed: %v", e.GatewayOrderID, e.Err)
}

func (e *PaymentFailedError) Unwrap() []error { return []error{ErrPaymentFailed, e.Err} }

// OrderPersistError means the order could not be stored and its reservation was
// rolled back, so the whole checkout can be retried.
type OrderPersistError struct {
	OrderID string
	Err     error
}

func (e *OrderPersistError) Error() string {
	return fmt.Sprintf("order: persist %s: %v", e.OrderID, e.Err)
}

func (e *OrderPersistError) Unwrap() []error { return []error{ErrOrderPersist, e.Err} }

// FollowUpError means a cancellation committed but its restock or refund could not
// be handed off. The order is already Cancelled; the follow-up needs an operator.
type FollowUpError struct {
	OrderID string
	Err     error
}

func (e *FollowUpError) Error() string {
	return fmt.Sprintf("order: follow-up for %s: %v", e.OrderID, e.Err)
}

func (e *FollowUpError) Unwrap() []error { return []error{ErrFollowUpFailed, e.Err} }
