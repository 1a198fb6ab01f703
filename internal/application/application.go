package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const SpanPrefix = "UC."

// ErrValidation marks caller mistakes; transports map it to 400.
var ErrValidation = errors.New("validation")

func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

// Instruments holds the RED instruments and base logger a use case resolves once at
// construction. Nothing is instantiated per call.
type Instruments struct {
	tracer       observability.Tracer
	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewInstruments(tel observability.Observability, service string) Instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return Instruments{
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

func (in Instruments) Logger() observability.Logger { return in.log }

// Run tracks a single use case execution from Begin to End.
type Run struct {
	in      Instruments
	ctx     context.Context
	span    trace.Span
	useCase string
	start   time.Time
	outcome string
	status  string
	log     observability.Logger
	fields  []observability.Field
}

// Begin opens the span and binds a use-case scoped logger onto the returned context.
func (in Instruments) Begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := in.tracer.Start(ctx, SpanPrefix+spanName, attrs...)
	ctx, logger := logctx.Enrich(ctx, in.log, observability.F("use_case", useCase))
	return ctx, &Run{
		in:      in,
		ctx:     ctx,
		span:    span,
		useCase: useCase,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
		log:     logger,
	}
}

func (r *Run) Logger() observability.Logger { return r.log }
func (r *Run) Span() trace.Span             { return r.span }

// Fail marks the run as failed with a stable status code.
func (r *Run) Fail(status string) {
	r.outcome, r.status = "error", status
}

// Status records a non-error status such as an idempotent replay.
func (r *Run) Status(status string) {
	r.status = status
}

// Annotate adds fields to the closing use_case_done line only.
func (r *Run) Annotate(fields ...observability.Field) {
	r.fields = append(r.fields, fields...)
}

// End closes the span, records RED metrics and writes one use_case_done line.
func (r *Run) End(err error) {
	if err != nil && r.outcome == "success" {
		r.outcome, r.status = "error", "ERROR"
	}
	lat := time.Since(r.start).Seconds()

	if r.span != nil {
		if r.outcome == "error" {
			if err != nil {
				r.span.RecordError(err)
			}
			r.span.SetStatus(codes.Error, r.status)
		} else {
			r.span.SetStatus(codes.Ok, r.status)
		}
		r.span.End()
	}

	r.in.reqCounter.Add(1,
		observability.L("use_case", r.useCase),
		observability.L("outcome", r.outcome),
	)
	r.in.durHistogram.Observe(lat, observability.L("use_case", r.useCase))

	fields := append([]observability.Field{
		observability.F("outcome", r.outcome),
		observability.F("status", r.status),
		observability.F("latency_seconds", lat),
	}, r.fields...)
	if sc := trace.SpanContextFromContext(r.ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	r.log.Info("use_case_done", fields...)
}

// External records a call to something outside the process.
func (in Instruments) External(peer, endpoint string, start time.Time, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		outcome = "canceled"
	case err != nil:
		outcome = "error"
	}
	in.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	in.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
}
