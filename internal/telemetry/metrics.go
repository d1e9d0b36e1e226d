package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики исполнителя.
var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdds_executor_jobs_total",
		Help: "Jobs finished by the executor, by terminal status",
	}, []string{"status"})

	PollRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdds_executor_poll_retries_total",
		Help: "Status polls retried after a transient transport failure, by gRPC code",
	}, []string{"code"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mdds_executor_job_duration_seconds",
		Help:    "Time from job receipt to terminal result",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
	}, []string{"status"})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mdds_executor_jobs_in_flight",
		Help: "Jobs currently being driven by the executor",
	})
)

// Метрики потребителя результатов.
var (
	ResultsStoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdds_results_stored_total",
		Help: "Result records written to the store, by status",
	}, []string{"status"})

	ResultsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdds_results_suppressed_total",
		Help: "Result records dropped by store invariants, by reason",
	}, []string{"reason"})

	ResultsCorruptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdds_results_corrupt_total",
		Help: "Stored result records that failed to decode and were overwritten",
	})
)

// Метрики солвера.
var (
	SolverJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdds_solver_jobs_total",
		Help: "Jobs accepted by the solver service, by method",
	}, []string{"method"})
)
