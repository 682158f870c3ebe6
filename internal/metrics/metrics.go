package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rate resolution outcomes
const (
	RateIdentity           = "identity"
	RateCacheHit           = "cache_hit"
	RateRefreshed          = "refreshed"
	RateDegraded           = "degraded"
	RateUnavailable        = "unavailable"
	RateHistoricalHit      = "historical_hit"
	RateHistoricalFetched  = "historical_fetched"
	RateHistoricalFallback = "historical_fallback"
)

// Snapshot computation outcomes
const (
	SnapshotOK             = "ok"
	SnapshotFailed         = "failed"
	SnapshotReconciliation = "reconciliation_violation"
)

type MetricsService interface {
	// HTTP metrics
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)

	// Rate metrics
	RecordRateResolution(outcome string)
	RecordProviderCall(provider string, success bool, errorCode string, duration time.Duration)
	RecordOutlierRejected(provider string)

	// Snapshot metrics
	RecordSnapshotComputation(status string, duration time.Duration)
	RecordBackfillDate(status string)
	RecordHoldingApproximation()

	// Trigger metrics
	RecordLedgerEvent(eventType, status string)
	RecordSchedulerRun(status string, users int, duration time.Duration)
}

type prometheusMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	rateResolutionsTotal   *prometheus.CounterVec
	providerCallsTotal     *prometheus.CounterVec
	providerCallDuration   *prometheus.HistogramVec
	outliersRejectedTotal  *prometheus.CounterVec
	snapshotsTotal         *prometheus.CounterVec
	snapshotDuration       prometheus.Histogram
	backfillDatesTotal     *prometheus.CounterVec
	holdingApproximations  prometheus.Counter
	ledgerEventsTotal      *prometheus.CounterVec
	schedulerRunsTotal     *prometheus.CounterVec
	schedulerRunDuration   prometheus.Histogram
	schedulerUsersLastRun  prometheus.Gauge
}

// NewPrometheusMetrics registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewPrometheusMetrics(reg prometheus.Registerer) MetricsService {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &prometheusMetrics{}

	m.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "networth_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	m.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "networth_api_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	m.rateResolutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "networth_api_rate_resolutions_total",
			Help: "Exchange rate resolutions by outcome",
		},
		[]string{"outcome"},
	)

	m.providerCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "networth_api_provider_calls_total",
			Help: "Rate provider calls",
		},
		[]string{"provider", "status", "error_code"},
	)

	m.providerCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "networth_api_provider_call_duration_seconds",
			Help:    "Rate provider call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"provider"},
	)

	m.outliersRejectedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "networth_api_rate_outliers_rejected_total",
			Help: "Quotes discarded as outliers",
		},
		[]string{"provider"},
	)

	m.snapshotsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "networth_api_snapshot_computations_total",
			Help: "Performance snapshot computations by status",
		},
		[]string{"status"},
	)

	m.snapshotDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "networth_api_snapshot_computation_duration_seconds",
			Help:    "Performance snapshot computation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	m.backfillDatesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "networth_api_backfill_dates_total",
			Help: "Backfilled dates by status",
		},
		[]string{"status"},
	)

	m.holdingApproximations = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "networth_api_holding_pl_approximations_total",
			Help: "Currency holdings whose P&L was taken as already in base currency",
		},
	)

	m.ledgerEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "networth_api_ledger_events_total",
			Help: "Ledger events consumed",
		},
		[]string{"type", "status"},
	)

	m.schedulerRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "networth_api_scheduler_runs_total",
			Help: "Daily snapshot runs",
		},
		[]string{"status"},
	)

	m.schedulerRunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "networth_api_scheduler_run_duration_seconds",
			Help:    "Daily snapshot run duration in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900},
		},
	)

	m.schedulerUsersLastRun = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "networth_api_scheduler_users_last_run",
			Help: "Users processed by the last daily run",
		},
	)

	return m
}

func (m *prometheusMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordRateResolution(outcome string) {
	m.rateResolutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *prometheusMetrics) RecordProviderCall(provider string, success bool, errorCode string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.providerCallsTotal.WithLabelValues(provider, status, errorCode).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordOutlierRejected(provider string) {
	m.outliersRejectedTotal.WithLabelValues(provider).Inc()
}

func (m *prometheusMetrics) RecordSnapshotComputation(status string, duration time.Duration) {
	m.snapshotsTotal.WithLabelValues(status).Inc()
	m.snapshotDuration.Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordBackfillDate(status string) {
	m.backfillDatesTotal.WithLabelValues(status).Inc()
}

func (m *prometheusMetrics) RecordHoldingApproximation() {
	m.holdingApproximations.Inc()
}

func (m *prometheusMetrics) RecordLedgerEvent(eventType, status string) {
	m.ledgerEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *prometheusMetrics) RecordSchedulerRun(status string, users int, duration time.Duration) {
	m.schedulerRunsTotal.WithLabelValues(status).Inc()
	m.schedulerRunDuration.Observe(duration.Seconds())
	m.schedulerUsersLastRun.Set(float64(users))
}

type noopMetrics struct{}

// NewNoopMetrics returns a MetricsService that records nothing.
func NewNoopMetrics() MetricsService {
	return noopMetrics{}
}

func (noopMetrics) RecordHTTPRequest(string, string, int, time.Duration)   {}
func (noopMetrics) RecordRateResolution(string)                           {}
func (noopMetrics) RecordProviderCall(string, bool, string, time.Duration) {}
func (noopMetrics) RecordOutlierRejected(string)                          {}
func (noopMetrics) RecordSnapshotComputation(string, time.Duration)       {}
func (noopMetrics) RecordBackfillDate(string)                             {}
func (noopMetrics) RecordHoldingApproximation()                           {}
func (noopMetrics) RecordLedgerEvent(string, string)                      {}
func (noopMetrics) RecordSchedulerRun(string, int, time.Duration)         {}
