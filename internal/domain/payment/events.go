package payment

import "time"

// RefundRequestedEvent asks the payment worker to return money through the gateway.
type RefundRequestedEvent struct {
	OrderID       string
	VendorID      string
	TransactionID string
	Amount        int64
	Currency      string
	Reason        string
	OccurredAt    time.Time
}

func (RefundRequestedEvent) EventName() string { return "payment.refund_requested" }
