package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation outcomes reported by EditorMetrics.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeNoop     = "noop"
	OutcomeError    = "error"
)

// EditorMetrics captures editing session activity.
type EditorMetrics interface {
	IncOperation(op, outcome string)
	IncLoad(source, outcome string)
	SetActiveSessions(n int)
}

// GatewayMetrics captures request metrics for the API gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements every metrics interface without emitting anything.
type Noop struct{}

func (Noop) IncOperation(string, string)                    {}
func (Noop) IncLoad(string, string)                         {}
func (Noop) SetActiveSessions(int)                          {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements EditorMetrics backed by Prometheus collectors.
type Prom struct {
	operations *prometheus.CounterVec
	loads      *prometheus.CounterVec
	sessions   prometheus.Gauge
	once       sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "editor_operations_total",
			Help:      "Editor store operations by name and outcome",
		}, []string{"op", "outcome"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "editor_loads_total",
			Help:      "Canary config loads by source and outcome",
		}, []string{"source", "outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "editor_active_sessions",
			Help:      "Editing sessions currently held in memory",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.operations, p.loads, p.sessions)
	})
}

func (p *Prom) IncOperation(op, outcome string) {
	p.operations.WithLabelValues(op, outcome).Inc()
}

func (p *Prom) IncLoad(source, outcome string) {
	p.loads.WithLabelValues(source, outcome).Inc()
}

func (p *Prom) SetActiveSessions(n int) {
	p.sessions.Set(float64(n))
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
