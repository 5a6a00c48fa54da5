package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pos"

// Settlement outcomes used as the "outcome" label.
const (
	OutcomeSettled      = "settled"
	OutcomeInsufficient = "insufficient_stock"
	OutcomeNotFound     = "not_found"
	OutcomeInvalid      = "invalid"
	OutcomeUnavailable  = "unavailable"
	OutcomeCanceled     = "canceled"
	OutcomeReplayed     = "replayed"
	OutcomeError        = "error"
)

type SettlementMetrics struct {
	Settlements *prometheus.CounterVec
	Conflicts   prometheus.Counter
	Attempts    prometheus.Histogram
	LatencyMS   prometheus.Histogram
	Restocks    *prometheus.CounterVec
}

func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	m := &SettlementMetrics{
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "total",
			Help:      "Settlements by outcome.",
		}, []string{"outcome"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "conflicts_total",
			Help:      "Write conflicts reported by the store and retried.",
		}),
		Attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "attempts",
			Help:      "Attempts needed per settlement.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		LatencyMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "duration_ms",
			Help:      "Settlement latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		Restocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "restock",
			Name:      "requests_total",
			Help:      "Restock requests enqueued by priority.",
		}, []string{"priority"}),
	}
	if reg != nil {
		reg.MustRegister(m.Settlements, m.Conflicts, m.Attempts, m.LatencyMS, m.Restocks)
	}
	return m
}

// Observe records one finished settlement.
func (m *SettlementMetrics) Observe(outcome string, attempts int, started time.Time) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.Attempts.Observe(float64(attempts))
	}
	m.LatencyMS.Observe(float64(time.Since(started).Microseconds()) / 1000)
}

func (m *SettlementMetrics) Conflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *SettlementMetrics) Restock(priority string) {
	if m == nil {
		return
	}
	m.Restocks.WithLabelValues(priority).Inc()
}

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	if reg != nil {
		reg.MustRegister(requests, latency)
	}
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Wrap instruments h under the given handler label.
func (m *ServerMetrics) Wrap(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		m.Requests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		m.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Microseconds()) / 1000)
	})
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
