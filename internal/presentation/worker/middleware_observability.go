package workerpresentation

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// WithEventContext injects an event-scoped logger for background executions. Only
// dynamic fields are added: event_id (generated when absent), valid trace/span ids and
// the caller's low-cardinality attributes.
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	attrs map[string]string,
) context.Context {
	base = logctx.FromOr(ctx, base)

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields := []observability.Field{observability.F("event_id", evtID)}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}
	return logctx.With(ctx, base.With(fields...))
}

// Subscriber decorates another Subscriber so every handler runs with an event-scoped
// logger on its context.
type Subscriber struct {
	next domoutbox.Subscriber
	log  observability.Logger
}

func NewSubscriber(next domoutbox.Subscriber, tel observability.Observability) *Subscriber {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Subscriber{next: next, log: tel.Logger().With(observability.F("component", "worker"))}
}

func (s *Subscriber) Subscribe(eventName string, h domoutbox.Handler) {
	s.next.Subscribe(eventName, func(ctx context.Context, e domoutbox.Event) error {
		ctx = WithEventContext(ctx, s.log, map[string]string{"event": eventName})
		return h(ctx, e)
	})
}
