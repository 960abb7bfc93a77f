// Package metrics exposes quotad's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quotad/internal/constants"
)

// Metrics holds the collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	limitOps      *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	chargedMs     prometheus.Counter
	forcedLogouts prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	wsClients     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	ns := constants.AppName

	return &Metrics{
		registry: reg,
		limitOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "limit_operations_total",
			Help:      "Quota tracker operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sweeps_total",
			Help:      "Reconciliation sweeps by outcome.",
		}, []string{"outcome"}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of completed reconciliation sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		chargedMs: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "session_charged_milliseconds_total",
			Help:      "Logged in time charged against login quotas.",
		}),
		forcedLogouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "forced_logouts_total",
			Help:      "Sessions ended because their login quota ran out.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "websocket_clients",
			Help:      "Connected notification WebSocket clients.",
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveLimitOperation implements limit.Recorder.
func (m *Metrics) ObserveLimitOperation(op, outcome string) {
	m.limitOps.WithLabelValues(op, outcome).Inc()
}

// ObserveSweep implements reconcile.Recorder.
func (m *Metrics) ObserveSweep(outcome string, d time.Duration) {
	m.sweeps.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		m.sweepDuration.Observe(d.Seconds())
	}
}

// ObserveCharge implements reconcile.Recorder.
func (m *Metrics) ObserveCharge(ms int64) {
	m.chargedMs.Add(float64(ms))
}

// ObserveForcedLogout implements reconcile.Recorder.
func (m *Metrics) ObserveForcedLogout() {
	m.forcedLogouts.Inc()
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) WebSocketConnected()    { m.wsClients.Inc() }
func (m *Metrics) WebSocketDisconnected() { m.wsClients.Dec() }
