package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kkiri"

// Metrics groups the counters every component reports to. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events   *prometheus.CounterVec
	pairings *prometheus.CounterVec
	pushes   *prometheus.CounterVec
	sweeps   *prometheus.CounterVec
	sweptDoc *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_events_total",
			Help:      "Document trigger deliveries by handler and outcome",
		}, []string{"handler", "outcome"}),
		pairings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_attempts_total",
			Help:      "Pairing transactions by outcome",
		}, []string{"outcome"}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_tokens_total",
			Help:      "Push deliveries per device token by result",
		}, []string{"kind", "result"}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Scheduled job runs by job and outcome",
		}, []string{"job", "outcome"}),
		sweptDoc: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_documents_total",
			Help:      "Documents changed by scheduled jobs",
		}, []string{"job"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Trigger and callable handler latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
	}
}

func (m *Metrics) Event(handler, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(handler, outcome).Inc()
}

func (m *Metrics) Pairing(outcome string) {
	if m == nil {
		return
	}
	m.pairings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Push(kind, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pushes.WithLabelValues(kind, result).Add(float64(n))
}

func (m *Metrics) Sweep(job, outcome string, changed int) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(job, outcome).Inc()
	if changed > 0 {
		m.sweptDoc.WithLabelValues(job).Add(float64(changed))
	}
}

func (m *Metrics) Observe(handler string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(handler).Observe(seconds)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
