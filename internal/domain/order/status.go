package order

import "fmt"

// Status is shared by orders and vendor sub-orders. The string values are part of the
// public contract and compared case-sensitively.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// progress orders the non-cancelled states from least to most advanced.
var progress = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusShipped:    2,
	StatusDelivered:  3,
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool { return len(transitions[s]) == 0 }

// Aggregate derives an order's status from its sub-orders: Delivered once every
// sub-order is delivered, Cancelled once every sub-order is cancelled, otherwise the
// least advanced status among the sub-orders that are still live.
func Aggregate(subs []VendorSubOrder) Status {
	if len(subs) == 0 {
		return StatusPending
	}
	least := StatusDelivered
	live := 0
	for _, s := range subs {
		if s.Status == StatusCancelled {
			continue
		}
		live++
		if progress[s.Status] < progress[least] {
			least = s.Status
		}
	}
	if live == 0 {
		return StatusCancelled
	}
	return least
}
