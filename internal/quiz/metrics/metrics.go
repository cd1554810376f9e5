package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesTotal tracks every remote call attempt, retries included
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapquiz_dispatches_total",
			Help: "Total number of remote call attempts",
		},
		[]string{"operation"},
	)

	// DispatchErrorsTotal tracks failed attempts by failure category
	DispatchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapquiz_dispatch_errors_total",
			Help: "Total number of failed remote call attempts",
		},
		[]string{"operation", "category"},
	)

	// RetriesTotal tracks retries scheduled after transient failures
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapquiz_retries_total",
			Help: "Total number of retries after transient failures",
		},
		[]string{"operation"},
	)

	// DispatchLatency tracks remote call latency
	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapquiz_dispatch_latency_seconds",
			Help:    "Remote call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"operation"},
	)

	// QueueDepth tracks operations waiting for or occupying the lane
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapquiz_queue_depth",
			Help: "Operations waiting for or occupying the request lane",
		},
	)

	// HealthState is 0 for ok, 1 for warning and 2 for error
	HealthState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapquiz_health_state",
			Help: "Current health state (0 ok, 1 warning, 2 error)",
		},
	)

	// SessionsStarted tracks question batches requested by sessions
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapquiz_sessions_started_total",
			Help: "Total number of question batches requested",
		},
		[]string{"mode", "outcome"},
	)

	// AnswersTotal tracks recorded answers
	AnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapquiz_answers_total",
			Help: "Total number of recorded answers",
		},
		[]string{"correct"},
	)

	// ExplanationRequests tracks detailed explanation lookups
	ExplanationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapquiz_explanation_requests_total",
			Help: "Detailed explanation lookups by source",
		},
		[]string{"source"}, // cache, remote, fallback
	)

	// DBConnectionPoolUsage tracks the PostgreSQL connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapquiz_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
