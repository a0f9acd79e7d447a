package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(creditOpsTotal, refundFailuresTotal) }

var creditOpsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "credit_operations_total",
		Help: "Credit ledger operations by type (debit/refund/grant).",
	},
	[]string{"op"},
)

// A refund failure violates the credit invariant; this counter is the
// alerting hook for it.
var refundFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "credit_refund_failures_total",
		Help: "Refunds that could not be applied.",
	},
)

func IncCreditOp(op string) { creditOpsTotal.WithLabelValues(norm(op)).Inc() }
func IncRefundFailure()     { refundFailuresTotal.Inc() }
