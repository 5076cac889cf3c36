package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes reported by the action resolver.
const (
	OutcomeSync  = "sync"
	OutcomeAsync = "async"
	OutcomeStale = "stale"
)

// Metrics defines counters for extension invocation and action resolution.
type Metrics interface {
	IncInvocations(point string)
	IncExtensionFailures(point string)
	IncActionFailures(action string)
	IncResolutions(point, outcome string)
	ObserveResolution(point string, durationSeconds float64)
}

// CapabilityMetrics captures capability set activity.
type CapabilityMetrics interface {
	IncCapabilityResets(source string)
	IncExpressionErrors()
	SetCapabilities(n int)
}

// Noop implements Metrics and CapabilityMetrics without emitting anything.
type Noop struct{}

func (Noop) IncInvocations(string)             {}
func (Noop) IncExtensionFailures(string)       {}
func (Noop) IncActionFailures(string)          {}
func (Noop) IncResolutions(string, string)     {}
func (Noop) ObserveResolution(string, float64) {}
func (Noop) IncCapabilityResets(string)        {}
func (Noop) IncExpressionErrors()              {}
func (Noop) SetCapabilities(int)               {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	invocations       *prometheus.CounterVec
	extensionFailures *prometheus.CounterVec
	actionFailures    *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	resolutionLatency *prometheus.HistogramVec
	once              sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "point_invocations_total",
			Help:      "Extension point invocations by point",
		}, []string{"point"}),
		extensionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extension_failures_total",
			Help:      "Extension handlers that returned an error or panicked, by point",
		}, []string{"point"}),
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_predicate_failures_total",
			Help:      "Action predicates that failed closed, by action",
		}, []string{"action"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_resolutions_total",
			Help:      "Action resolutions by link point and outcome",
		}, []string{"point", "outcome"}),
		resolutionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_resolution_duration_seconds",
			Help:      "Time from selection change to ready, by link point",
			Buckets:   prometheus.DefBuckets,
		}, []string{"point"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.invocations, p.extensionFailures, p.actionFailures, p.resolutions, p.resolutionLatency)
	})
}

func (p *Prom) IncInvocations(point string) {
	p.invocations.WithLabelValues(point).Inc()
}

func (p *Prom) IncExtensionFailures(point string) {
	p.extensionFailures.WithLabelValues(point).Inc()
}

func (p *Prom) IncActionFailures(action string) {
	p.actionFailures.WithLabelValues(action).Inc()
}

func (p *Prom) IncResolutions(point, outcome string) {
	p.resolutions.WithLabelValues(point, outcome).Inc()
}

func (p *Prom) ObserveResolution(point string, durationSeconds float64) {
	p.resolutionLatency.WithLabelValues(point).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Capability metrics ---

type capabilityProm struct {
	resets     *prometheus.CounterVec
	exprErrors prometheus.Counter
	enabled    prometheus.Gauge
	once       sync.Once
}

// NewCapabilityProm constructs CapabilityMetrics with counters/gauges.
func NewCapabilityProm(namespace string) CapabilityMetrics {
	c := &capabilityProm{
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_resets_total",
			Help:      "Capability set resets by trigger source",
		}, []string{"source"}),
		exprErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_expression_errors_total",
			Help:      "Capability expressions that failed to compile",
		}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capabilities_enabled",
			Help:      "Number of enabled capabilities after the last reset",
		}),
	}
	c.once.Do(func() {
		prometheus.MustRegister(c.resets, c.exprErrors, c.enabled)
	})
	return c
}

func (c *capabilityProm) IncCapabilityResets(source string) {
	c.resets.WithLabelValues(source).Inc()
}

func (c *capabilityProm) IncExpressionErrors() {
	c.exprErrors.Inc()
}

func (c *capabilityProm) SetCapabilities(n int) {
	c.enabled.Set(float64(n))
}
