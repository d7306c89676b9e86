package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every ETL metric. A batch job has no scrape endpoint, so the
// registry is pushed to a Pushgateway at the end of a run when one is configured.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Fetch metrics
	FetchAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_etl_fetch_attempts_total",
			Help: "Total number of HTTP fetch attempts by outcome",
		},
		[]string{"outcome"},
	)

	FetchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_etl_fetch_duration_seconds",
			Help:    "Duration of a single HTTP fetch attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Validation metrics
	RecordsValidated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_etl_records_validated_total",
			Help: "Total number of records seen by the validator by result",
		},
		[]string{"result"},
	)

	ValidationErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_etl_validation_errors_total",
			Help: "Total number of validation errors by kind",
		},
		[]string{"kind"},
	)

	// Storage metrics
	StorageOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_etl_storage_operations_total",
			Help: "Total number of storage operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	StorageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telhawk_etl_storage_duration_seconds",
			Help:    "Duration of storage operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Run metrics
	Runs = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_etl_runs_total",
			Help: "Total number of pipeline runs by final state",
		},
		[]string{"state"},
	)

	RecordsLoaded = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_etl_records_loaded_total",
			Help: "Total number of records written to the primary object",
		},
	)

	RunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_etl_run_duration_seconds",
			Help:    "Wall time of a pipeline run in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	LastRunTimestamp = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "telhawk_etl_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Outcome maps an error to an outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

// Push replaces the job's group on a Pushgateway with the current registry.
// The group is keyed by job and, when set, instance so that every run
// overwrites the previous one.
func Push(ctx context.Context, url, job, instance string) error {
	if url == "" {
		return nil
	}
	pusher := push.New(url, job).Gatherer(Registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
