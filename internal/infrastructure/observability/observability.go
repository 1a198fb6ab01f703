package observability

import (
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

type registeredMetrics struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m *registeredMetrics) Counter(name observability.MetricKey) observability.Counter {
	if c, ok := m.counters[name]; ok {
		return c
	}
	return observability.NopCounter()
}

func (m *registeredMetrics) Histogram(name observability.MetricKey) observability.Histogram {
	if h, ok := m.histograms[name]; ok {
		return h
	}
	return observability.NopHistogram()
}

// Registry is the subset of the metrics backend needed to materialise instruments.
type Registry interface {
	Counter(name string, help string, labelKeys ...string) observability.Counter
	Histogram(name string, help string, buckets []float64, labelKeys ...string) observability.Histogram
}

// New assembles the Observability handed to every layer. A nil registry yields no-op metrics.
func New(tracer observability.Tracer, logger observability.Logger, reg Registry) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	var metrics observability.Metrics = observability.NopMetrics()
	if reg != nil {
		m := &registeredMetrics{
			counters:   make(map[observability.MetricKey]observability.Counter, len(observability.Counters)),
			histograms: make(map[observability.MetricKey]observability.Histogram, len(observability.Histograms)),
		}
		for _, def := range observability.Counters {
			m.counters[def.Key] = reg.Counter(string(def.Key), def.Help, def.Labels...)
		}
		for _, def := range observability.Histograms {
			m.histograms[def.Key] = reg.Histogram(string(def.Key), def.Help, nil, def.Labels...)
		}
		metrics = m
	}

	return &provider{tracer: tracer, logger: logger, metrics: metrics}
}

func (p *provider) Tracer() observability.Tracer   { return p.tracer }
func (p *provider) Logger() observability.Logger   { return p.logger }
func (p *provider) Metrics() observability.Metrics { return p.metrics }
