// Package observability holds the Prometheus collectors shared by the API and the importer.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "touchpoints"

var (
	queryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Latency of query engine operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	queryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "errors_total",
		Help:      "Query engine operations that returned an error, by operation and kind.",
	}, []string{"operation", "kind"})

	importedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "records_total",
		Help:      "Records committed by the batch loader, by record kind.",
	}, []string{"kind"})
	skippedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "skipped_total",
		Help:      "Records dropped by the batch loader in ignore-errors mode, by record kind.",
	}, []string{"kind"})
	lastEventImported = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "import",
		Name:      "last_event_timestamp_seconds",
		Help:      "Unix timestamp of the newest activity event committed by the loader.",
	})
)

// ErrorKinder lets callers classify an error for the errors_total label.
type ErrorKinder func(error) string

var classify ErrorKinder = func(err error) string { return "error" }

func init() {
	prometheus.MustRegister(queryDuration, queryErrors, importedRecords, skippedRecords, lastEventImported)
}

// SetErrorClassifier replaces the function used to label query errors.
func SetErrorClassifier(fn ErrorKinder) {
	if fn != nil {
		classify = fn
	}
}

// ObserveQuery records the duration of an operation and, when *errp is set, an error.
// It is meant to be deferred with a pointer to a named error result.
func ObserveQuery(operation string, started time.Time, errp *error) {
	queryDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if errp == nil || *errp == nil {
		return
	}
	var kind string
	if errors.Is(*errp, context.Canceled) {
		kind = "canceled"
	} else {
		kind = classify(*errp)
	}
	queryErrors.WithLabelValues(operation, kind).Inc()
}

// RecordImported increments the committed record counter.
func RecordImported(kind string, n int) {
	if n <= 0 {
		return
	}
	importedRecords.WithLabelValues(kind).Add(float64(n))
}

// RecordSkipped increments the skipped record counter.
func RecordSkipped(kind string, n int) {
	if n <= 0 {
		return
	}
	skippedRecords.WithLabelValues(kind).Add(float64(n))
}

// RecordEventImported advances the import watermark gauge.
func RecordEventImported(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastEventImported.Set(float64(ts.Unix()))
}
