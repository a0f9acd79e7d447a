package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(migrationsTotal) }

var migrationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storage_migrations_total",
		Help: "Per-output storage migration attempts by result (ok/failed).",
	},
	[]string{"result"},
)

func IncMigration(result string) {
	migrationsTotal.WithLabelValues(norm(result)).Inc()
}
