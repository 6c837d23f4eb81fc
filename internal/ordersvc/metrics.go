package ordersvc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Orders accepted, by order type",
		},
		[]string{"type"},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Committed order status changes, including derived ones",
		},
		[]string{"to"},
	)

	ledgerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_ledger_settlement_failures_total",
		Help: "Ledger settlements that failed and need a reconcile",
	})
)
