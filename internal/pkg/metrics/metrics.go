package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capturegate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	CaptureBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capturegate_capture_bytes_total",
		Help: "Body bytes persisted by the capture writer",
	}, []string{"direction"})

	CaptureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capturegate_capture_failures_total",
		Help: "Body captures that ended degraded",
	}, []string{"direction", "reason"})

	SinkDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capturegate_sink_deliveries_total",
		Help: "Access log deliveries per sink and outcome",
	}, []string{"sink", "outcome"})

	ShortCircuits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capturegate_short_circuits_total",
		Help: "Requests answered without an upstream call",
	}, []string{"reason"})

	RecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capturegate_records_dropped_total",
		Help: "Access log records dropped because the delivery queue was full",
	})
)
