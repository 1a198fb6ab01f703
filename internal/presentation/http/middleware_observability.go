package httppresentation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const unknownRoute = "unknown"

// ObservabilityMiddleware injects a request-scoped logger carrying request_id and the
// active trace/span ids, and echoes X-Request-ID (generated when absent).
func ObservabilityMiddleware(
	base observability.Logger,
	requestID func(*http.Request) string,
) func(http.Handler) http.Handler {
	if base == nil {
		base = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := ""
			if requestID != nil {
				rid = requestID(r)
			}
			if rid == "" {
				rid = uuid.NewString()
			}
			w.Header().Set(headerRequestID, rid)

			fields := []observability.Field{observability.F("request_id", rid)}
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				fields = append(fields,
					observability.F("trace_id", sc.TraceID().String()),
					observability.F("span_id", sc.SpanID().String()),
				)
			}
			ctx := logctx.With(r.Context(), base.With(fields...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// withTrace creates a server span for the request using OTel and W3C propagation.
// The span is renamed to the route template once chi has matched it.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("minishop.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctxWithSpan, span := tracer.Start(parentCtx,
			r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r.WithContext(ctxWithSpan))

		if route := routePattern(r); route != unknownRoute {
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attribute.String("http.route", route))
		}
		span.SetAttributes(attribute.Int("http.status_code", lrw.status))
	})
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routePattern(r)),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withHTTPMetrics records RED-ish HTTP metrics. Instruments are resolved once here,
// never per request.
func (h *Handler) withHTTPMetrics() func(http.Handler) http.Handler {
	requests := h.tel.Metrics().Counter(observability.MHTTPRequests)
	durations := h.tel.Metrics().Histogram(observability.MHTTPRequestDuration)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(lrw, r)

			labels := []observability.Label{
				observability.L("method", r.Method),
				observability.L("route", routePattern(r)),
				observability.L("status", strconv.Itoa(lrw.status)),
			}
			requests.Add(1, labels...)
			durations.Observe(time.Since(start).Seconds(), labels...)
		})
	}
}

// routePattern returns the low-cardinality chi template, e.g. /orders/{id}.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unknownRoute
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return unknownRoute
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
