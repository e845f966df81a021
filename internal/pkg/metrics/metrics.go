package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpgate_submissions_total",
		Help: "Transactions handled by the orchestrator, by operation and outcome",
	}, []string{"operation", "status"})

	StepLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpgate_step_latency_seconds",
		Help:    "Latency of each transaction lifecycle step",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	IntentRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpgate_intent_rejects_total",
		Help: "Intents rejected before submission",
	}, []string{"reason"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpgate_http_latency_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
