package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests"},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"},
	)
	// Mutations counts committed vote/like/unlike/create operations.
	Mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "poll_mutations_total", Help: "Committed poll mutations"},
		[]string{"kind"},
	)
	MutationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "poll_mutation_errors_total", Help: "Rejected poll mutations by reason"},
		[]string{"kind", "reason"},
	)
	TxRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "store_tx_retries_total", Help: "Transaction attempts retried after contention"},
	)
	TxExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "store_tx_exhausted_total", Help: "Transactions that ran out of retries"},
	)
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "hub_subscribers", Help: "Live subscriber connections"},
	)
	Delivered = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hub_events_delivered_total", Help: "Events enqueued to subscribers"},
	)
	LateEvents = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hub_events_late_total", Help: "Events delivered after a newer version of the same poll"},
	)
	Dropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hub_dropped_total", Help: "Subscribers or events dropped by the hub"},
		[]string{"why"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPLatency, Mutations, MutationErrors, TxRetries, TxExhausted, Subscribers, Delivered, LateEvents, Dropped)
}
