package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes recorded in sidecar_requests_total.
const (
	outcomeOK        = "ok"
	outcomeWorkerErr = "worker_error"
	outcomeTimeout   = "timeout"
	outcomeTransport = "transport_error"
	outcomeExited    = "worker_exited"
	outcomeCanceled  = "canceled"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	pending   prometheus.Gauge
	events    *prometheus.CounterVec
	malformed prometheus.Counter
	late      prometheus.Counter
	up        prometheus.Gauge
}

// NewMetrics creates the bridge collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sidecar",
			Name:      "requests_total",
			Help:      "Requests sent to the worker, by call mode and outcome.",
		}, []string{"mode", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sidecar",
			Name:      "request_duration_seconds",
			Help:      "Time from sending a request to its resolution.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 15, 60, 120},
		}, []string{"mode"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sidecar",
			Name:      "pending_requests",
			Help:      "Requests awaiting a response from the worker.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sidecar",
			Name:      "events_total",
			Help:      "Events received from the worker, by name.",
		}, []string{"event"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sidecar",
			Name:      "malformed_frames_total",
			Help:      "Worker output lines that were not a valid frame.",
		}),
		late: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sidecar",
			Name:      "unmatched_responses_total",
			Help:      "Responses whose id had no pending request.",
		}),
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sidecar",
			Name:      "worker_up",
			Help:      "1 while the worker process is running.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.duration, m.pending, m.events, m.malformed, m.late, m.up} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeCall(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(mode, outcome).Inc()
	m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) observeEvent(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

func (m *Metrics) observeMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) observeUnmatched() {
	if m == nil {
		return
	}
	m.late.Inc()
}

func (m *Metrics) setUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.up.Set(1)
		return
	}
	m.up.Set(0)
}
