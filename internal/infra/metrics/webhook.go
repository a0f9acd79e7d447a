package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhooksTotal) }

var webhooksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "provider_webhooks_total",
		Help: "Inbound provider webhooks by result (applied/duplicate/invalid/unknown_job).",
	},
	[]string{"result"},
)

func IncWebhook(result string) { webhooksTotal.WithLabelValues(norm(result)).Inc() }
