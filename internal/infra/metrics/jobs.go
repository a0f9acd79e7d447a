package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsTotal, jobLatencySeconds) }

var jobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "generation_jobs_total",
		Help: "Generation job lifecycle events, labeled by kind and outcome.",
	},
	[]string{"kind", "outcome"}, // submitted, completed, failed, cancelled, migration_failed, duplicate_status, submit_failed
)

var jobLatencySeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "generation_job_latency_seconds",
		Help:    "Time from submission to terminal state, per kind.",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	},
	[]string{"kind"},
)

func IncJob(kind, outcome string) {
	jobsTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func ObserveJobLatency(kind string, seconds float64) {
	jobLatencySeconds.WithLabelValues(norm(kind)).Observe(seconds)
}
