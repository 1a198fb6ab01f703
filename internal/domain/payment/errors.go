package payment

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedMethod = errors.New("payment: unsupported payment method")
	ErrSessionNotFound   = errors.New("payment: session not found")
	// ErrSessionExists is returned by stores when an open session already covers the
	// same buyer and draft fingerprint.
	ErrSessionExists = errors.New("payment: open session already exists")
	// ErrSessionConflict means a verified session is bound to a different transaction.
	ErrSessionConflict  = errors.New("payment: session already verified with another transaction")
	ErrInvalidSignature = errors.New("payment: invalid signature")
	ErrUnknownSession   = errors.New("payment: unknown session")
	ErrGateway          = errors.New("payment: gateway failure")
)

type InvalidSignatureError struct {
	GatewayOrderID string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("payment: signature mismatch for gateway order %s", e.GatewayOrderID)
}

func (e *InvalidSignatureError) Is(target error) bool { return target == ErrInvalidSignature }

// UnknownSessionError covers sessions that never existed, expired, or already failed.
type UnknownSessionError struct {
	GatewayOrderID string
	Reason         string
}

func (e *UnknownSessionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("payment: unknown session for gateway order %s", e.GatewayOrderID)
	}
	return fmt.Sprintf("payment: session for gateway order %s is %s", e.GatewayOrderID, e.Reason)
}

func (e *UnknownSessionError) Is(target error) bool { return target == ErrUnknownSession }
