// Package metrics exposes the Prometheus metrics of the API server.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "apex"

	methodLabel  = "method"
	routeLabel   = "route"
	statusLabel  = "status"
	outcomeLabel = "outcome"
)

// Checkout outcomes.
const (
	OutcomeAcquired  = "acquired"
	OutcomeRefreshed = "refreshed"
	OutcomeConflict  = "conflict"
	OutcomeDenied    = "denied"
	OutcomeCheckedIn = "checked_in"
	OutcomeReleased  = "released"
)

// Metrics holds the collectors of one server instance. A nil *Metrics
// records nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	checkoutsTotal        *prometheus.CounterVec
	commitsRecordedTotal  prometheus.Counter
	ledgerDivergenceTotal prometheus.Counter
	leasesReapedTotal     prometheus.Counter
	reaperRunDuration     prometheus.Histogram
}

// NewMetrics creates a new instance of Metrics on its own registry.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	return &Metrics{
		registry: reg,
		httpRequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{methodLabel, routeLabel, statusLabel}),
		httpRequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{methodLabel, routeLabel}),
		checkoutsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "transitions_total",
			Help:      "Checkout state machine transitions by outcome.",
		}, []string{outcomeLabel}),
		commitsRecordedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "commits_recorded_total",
			Help:      "Total number of commits appended to the ledger.",
		}),
		ledgerDivergenceTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "divergence_total",
			Help:      "Multi-document writes that failed part way without a transaction.",
		}),
		leasesReapedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "leases_reaped_total",
			Help:      "Total number of expired checkout leases released.",
		}),
		reaperRunDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "run_duration_seconds",
			Help:      "Duration of one lease reaper sweep.",
		}),
	}, nil
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one handled request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// AddCheckout records one checkout transition.
func (m *Metrics) AddCheckout(outcome string) {
	if m == nil {
		return
	}
	m.checkoutsTotal.WithLabelValues(outcome).Inc()
}

// AddCommitRecorded records one ledger append.
func (m *Metrics) AddCommitRecorded() {
	if m == nil {
		return
	}
	m.commitsRecordedTotal.Inc()
}

// AddLedgerDivergence records one partially applied write sequence.
func (m *Metrics) AddLedgerDivergence() {
	if m == nil {
		return
	}
	m.ledgerDivergenceTotal.Inc()
}

// ObserveReaperRun records one reaper sweep and the leases it released.
func (m *Metrics) ObserveReaperRun(released int, d time.Duration) {
	if m == nil {
		return
	}
	m.leasesReapedTotal.Add(float64(released))
	m.reaperRunDuration.Observe(d.Seconds())
}
