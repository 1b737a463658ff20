// Package metrics exposes the pipeline's Prometheus collectors. They live in
// a dedicated registry so a finished run can push them to a Pushgateway.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "timecamp_etl"

// Registry holds every collector in this package.
var Registry = prometheus.NewRegistry()

var (
	recordsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "records_total",
		Help:      "Number of time records read from the source API.",
	})

	apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "api_requests_total",
		Help:      "Source API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	apiRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "api_retries_total",
		Help:      "Retried source API requests by reason.",
	}, []string{"reason"})

	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time spent in each pipeline stage.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"stage", "status"})

	mergedRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "merge",
		Name:      "rows_total",
		Help:      "Rows written to the destination by kind (staged, merged).",
	}, []string{"destination", "kind"})

	uploadedObjects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "objects_total",
		Help:      "Objects written to object storage.",
	})

	lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful run per destination.",
	}, []string{"destination"})
)

func init() {
	Registry.MustRegister(recordsFetched, apiRequests, apiRetries, stageDuration, mergedRows, uploadedObjects, lastSuccess)
}

// RecordFetched counts n records read from the source.
func RecordFetched(n int) {
	recordsFetched.Add(float64(n))
}

// APIRequest counts one source request. outcome is "ok" or an error class.
func APIRequest(endpoint, outcome string) {
	apiRequests.WithLabelValues(endpoint, outcome).Inc()
}

// APIRetry counts one retried request.
func APIRetry(reason string) {
	apiRetries.WithLabelValues(reason).Inc()
}

// ObserveStage records how long a stage took.
func ObserveStage(stage string, status string, d time.Duration) {
	stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// RowsWritten counts destination rows.
func RowsWritten(destination, kind string, n int64) {
	mergedRows.WithLabelValues(destination, kind).Add(float64(n))
}

// ObjectUploaded counts one uploaded object.
func ObjectUploaded() {
	uploadedObjects.Inc()
}

// MarkSuccess stamps the last successful run for destination.
func MarkSuccess(destination string, at time.Time) {
	lastSuccess.WithLabelValues(destination).Set(float64(at.Unix()))
}

// newPusher is a seam for tests.
var newPusher = func(url, job string) *push.Pusher {
	return push.New(url, job)
}

// Push sends the registry to a Pushgateway. An empty url is a no-op.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	return newPusher(url, job).Gatherer(Registry).PushContext(ctx)
}
