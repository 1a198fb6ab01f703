package inventory

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

// Worker puts stock back for cancelled sub-orders whose stock was not returned when
// the cancellation committed.
type Worker struct {
	subscriber domoutbox.Subscriber
	useCase    application.UseCase[RestockInput, int]
	log        observability.Logger
}

func NewWorker(subscriber domoutbox.Subscriber, useCase application.UseCase[RestockInput, int], tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		subscriber: subscriber,
		useCase:    useCase,
		log:        tel.Logger().With(observability.F("service", "inventory_worker")),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.useCase == nil {
		return
	}
	w.subscriber.Subscribe(domorder.SubOrderCancelledEvent{}.EventName(), w.handleSubOrderCancelled)
}

func (w *Worker) handleSubOrderCancelled(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.SubOrderCancelledEvent)
	if !ok || evt.StockReturned {
		return nil
	}
	ctx, _ = logctx.Enrich(ctx, w.log,
		observability.F("order_id", evt.OrderID),
		observability.F("vendor_id", evt.VendorID),
	)
	if _, err := w.useCase.Execute(ctx, RestockInput{OrderID: evt.OrderID, VendorID: evt.VendorID, Lines: evt.Lines}); err != nil {
		return fmt.Errorf("worker: restock: %w", err)
	}
	return nil
}
