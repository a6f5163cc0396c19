package executor

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_orders_total",
			Help: "Market orders placed for pending instructions, by result.",
		},
		[]string{"result"},
	)
	mtxCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hunter_closes_total",
			Help: "Position closes, by reason and result.",
		},
		[]string{"reason", "result"},
	)
	mtxInstructionsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hunter_instructions_rejected_total",
			Help: "Trade instructions rejected by validation.",
		},
	)
	mtxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hunter_pending_instructions",
			Help: "Instructions waiting for their entry condition.",
		},
	)
	mtxActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hunter_active_trades",
			Help: "Trades opened by the executor and not yet closed.",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxCloses, mtxInstructionsRejected)
	prometheus.MustRegister(mtxPending, mtxActive)
}
