// File: internal/infra/metrics/metrics.go
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	regOnce sync.Once
	pending []prometheus.Collector
)

// register queues collectors at init time. Nothing reaches the default
// Prometheus registry until MustRegister runs, so importing this package from
// tests never trips duplicate-registration panics.
func register(cs ...prometheus.Collector) {
	pending = append(pending, cs...)
}

// MustRegister flushes every queued collector into the default registry.
// main calls it once before the /metrics endpoint goes up; repeat calls are no-ops.
func MustRegister() {
	regOnce.Do(func() {
		if len(pending) > 0 {
			prometheus.MustRegister(pending...)
		}
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
