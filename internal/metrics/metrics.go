// Package metrics exposes Prometheus instrumentation for Kestrel.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// Analysis Metrics
	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_analysis_duration_seconds",
			Help:    "Duration of analytic computations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	AnalysisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_analysis_errors_total",
			Help: "Total number of failed analytic computations",
		},
		[]string{"kind", "reason"}, // insufficient_data, empty_basket, empty_sample, capacity, other
	)

	ResultCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_result_cache_lookups_total",
			Help: "Result cache lookups by outcome",
		},
		[]string{"kind", "result"}, // hit, miss
	)

	// Snapshot Metrics
	SnapshotRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_snapshot_requests_total",
			Help: "Ledger snapshot requests by cache state",
		},
		[]string{"dataset", "state"}, // fresh, stale, miss
	)

	SnapshotLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_snapshot_loads_total",
			Help: "Ledger snapshot loads by outcome",
		},
		[]string{"dataset", "result"},
	)

	SnapshotLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_snapshot_load_duration_seconds",
			Help:    "Duration of ledger snapshot loads in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"dataset"},
	)

	SnapshotRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kestrel_snapshot_rows",
			Help: "Transaction lines in the current ledger snapshot",
		},
		[]string{"dataset"},
	)

	LoaderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_loader_failures_total",
			Help: "Ledger loader strategy failures",
		},
		[]string{"loader"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Bus Metrics
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_bus_messages_total",
			Help: "Event bus messages by topic and outcome",
		},
		[]string{"bus", "topic", "outcome"},
	)

	// Worker Metrics
	WorkerJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_worker_jobs_total",
			Help: "Asynchronous analysis jobs by outcome",
		},
		[]string{"kind", "status"},
	)
)

// Bus message outcomes.
const (
	BusPublished = "published"
	BusDelivered = "delivered"
	BusDropped   = "dropped"
	BusFailed    = "failed"
)

// RecordBusMessage counts one bus message outcome.
func RecordBusMessage(bus, topic, outcome string) {
	BusMessages.WithLabelValues(bus, topic, outcome).Inc()
}

// RecordAnalysis records the duration and outcome of one computation.
func RecordAnalysis(kind string, duration time.Duration, err error) {
	AnalysisDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		AnalysisErrors.WithLabelValues(kind, ErrorReason(err)).Inc()
	}
}

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSnapshotLoad records a ledger load attempt.
func RecordSnapshotLoad(dataset string, rows int, duration time.Duration, err error) {
	SnapshotLoadDuration.WithLabelValues(dataset).Observe(duration.Seconds())
	if err != nil {
		SnapshotLoads.WithLabelValues(dataset, "error").Inc()
		return
	}
	SnapshotLoads.WithLabelValues(dataset, "success").Inc()
	SnapshotRows.WithLabelValues(dataset).Set(float64(rows))
}

// ErrorReason maps an analytic error to a low-cardinality label.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, domain.ErrEmptyBasket):
		return "empty_basket"
	case errors.Is(err, domain.ErrEmptySample):
		return "empty_sample"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity"
	default:
		return "other"
	}
}
