package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightxr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insightxr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// PipelineOperations counts orchestrator operations by outcome
	// (ok, failed, rejected, stale, warning).
	PipelineOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insightxr_pipeline_operations_total",
			Help: "Total number of pipeline operations",
		},
		[]string{"op", "outcome"},
	)

	RemoteCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insightxr_remote_call_duration_seconds",
			Help:    "Duration of object store and processing service calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"op"},
	)

	OrphanedObjects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insightxr_orphaned_objects_total",
			Help: "Source objects left behind by a rename whose delete failed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		PipelineOperations,
		RemoteCallDuration,
		OrphanedObjects,
	)
}

// RecordRequest records one HTTP request.
func RecordRequest(method, route, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordOperation(op, outcome string) {
	PipelineOperations.WithLabelValues(op, outcome).Inc()
}

func ObserveRemote(op string, started time.Time) {
	RemoteCallDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
