package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "order_transitions_total",
		Help:      "Order state changes by operation and result.",
	}, []string{"op", "result"})

	BatchOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "batch_orders_total",
		Help:      "Orders handled by batch passes by outcome.",
	}, []string{"batch", "outcome"})

	LedgerRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "ledger_commit_retries_total",
		Help:      "Inventory commits retried after a concurrency conflict.",
	})

	NotifierSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "notifier_signals_total",
		Help:      "Signals published by the change notifier.",
	}, []string{"kind"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status class.",
	}, []string{"method", "status"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "http_rate_limited_total",
		Help:      "Requests rejected by the per-IP rate limiter.",
	})

	LiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fulfillment",
		Name:      "live_clients",
		Help:      "Connected admin live feed clients.",
	})

	OrphanBlobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfillment",
		Name:      "orphan_evidence_total",
		Help:      "Evidence blobs left without an owning order, by outcome.",
	}, []string{"outcome"})
)

// ObserveTransition records the outcome of one order state change.
func ObserveTransition(op string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	Transitions.WithLabelValues(op, result).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
