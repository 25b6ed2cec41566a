package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmo_answers_total",
			Help: "Total number of answered questions by retrieval tier",
		},
		[]string{"tier"},
	)

	AnswerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmo_answer_failures_total",
			Help: "Total number of questions that failed by error category",
		},
		[]string{"category"},
	)

	AnswerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hmo_answer_duration_seconds",
			Help:    "End-to-end answer latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	PlannerFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmo_planner_fallbacks_total",
			Help: "Total number of planner calls that fell back to the default plan",
		},
		[]string{"reason"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmo_upstream_retries_total",
			Help: "Total number of retried upstream model calls",
		},
		[]string{"operation"},
	)

	UpstreamFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmo_upstream_failures_total",
			Help: "Total number of upstream model calls that failed after retries",
		},
		[]string{"operation"},
	)

	UpstreamInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hmo_upstream_in_flight",
			Help: "Number of upstream model calls holding a concurrency permit",
		},
	)

	IngestedChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmo_ingested_chunks_total",
			Help: "Total number of chunks written to the index by type",
		},
		[]string{"type"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hmo_http_requests_total",
			Help: "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)
)
