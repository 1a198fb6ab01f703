package payment

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const paymentWorker = "payment_worker"

// Worker issues refunds for cancelled paid sub-orders and for payments that were
// captured but could not be turned into an order.
type Worker struct {
	subscriber domoutbox.Subscriber
	refunds    application.UseCase[RefundInput, string]
	log        observability.Logger
}

func NewWorker(subscriber domoutbox.Subscriber, refunds application.UseCase[RefundInput, string], tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber: subscriber,
		refunds:    refunds,
		log:        tel.Logger().With(observability.F("service", paymentWorker)),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.refunds == nil {
		return
	}
	w.subscriber.Subscribe(domorder.SubOrderCancelledEvent{}.EventName(), w.handleSubOrderCancelled)
	w.subscriber.Subscribe(dompay.RefundRequestedEvent{}.EventName(), w.handleRefundRequested)
}

func (w *Worker) handleSubOrderCancelled(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.SubOrderCancelledEvent)
	if !ok || evt.TransactionID == "" || evt.RefundAmount <= 0 {
		return nil
	}
	return w.refund(ctx, RefundInput{
		OrderID:       evt.OrderID,
		VendorID:      evt.VendorID,
		TransactionID: evt.TransactionID,
		Amount:        evt.RefundAmount,
		Currency:      evt.Currency,
		Reason:        "suborder_cancelled",
	})
}

func (w *Worker) handleRefundRequested(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dompay.RefundRequestedEvent)
	if !ok {
		return nil
	}
	return w.refund(ctx, RefundInput{
		OrderID:       evt.OrderID,
		VendorID:      evt.VendorID,
		TransactionID: evt.TransactionID,
		Amount:        evt.Amount,
		Currency:      evt.Currency,
		Reason:        evt.Reason,
	})
}

func (w *Worker) refund(ctx context.Context, in RefundInput) error {
	ctx, _ = logctx.Enrich(ctx, w.log,
		observability.F("order_id", in.OrderID),
		observability.F("transaction_id", in.TransactionID),
	)
	if _, err := w.refunds.Execute(ctx, in); err != nil {
		return fmt.Errorf("worker: refund: %w", err)
	}
	return nil
}
