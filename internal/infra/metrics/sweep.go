package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(sweepRunsTotal, sweepCheckedTotal, sweepDurationSeconds) }

var sweepRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sweep_runs_total",
		Help: "Polling sweep runs by kind.",
	},
	[]string{"kind"},
)

var sweepCheckedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sweep_jobs_checked_total",
		Help: "Jobs polled during sweeps, by kind and result bucket.",
	},
	[]string{"kind", "result"}, // completed, failed, still_processing, errored
)

var sweepDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Wall time of one sweep batch.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"kind"},
)

func IncSweepRun(kind string) { sweepRunsTotal.WithLabelValues(norm(kind)).Inc() }

func AddSweepChecked(kind, result string, n int) {
	sweepCheckedTotal.WithLabelValues(norm(kind), norm(result)).Add(float64(n))
}

func ObserveSweepDuration(kind string, seconds float64) {
	sweepDurationSeconds.WithLabelValues(norm(kind)).Observe(seconds)
}
