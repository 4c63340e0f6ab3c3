package kafka

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus instrumentation for the actor (the only
// component that updates it), in the style of the teacher's
// top-level metrics.go (one struct of pre-registered collectors, built
// once and threaded through the components that update it).
type Metrics struct {
	pollsTotal           prometheus.Counter
	pollErrorsTotal      prometheus.Counter
	requestQueueDepth    prometheus.Gauge
	fetchesPending       prometheus.Gauge
	fetchesExpiredTotal  prometheus.Counter
	fetchesRevokedTotal  prometheus.Counter
	recordsConsumedTotal prometheus.Counter
	rebalancesTotal      prometheus.Counter
}

// NewMetrics creates and registers a Metrics instance with reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry, or prometheus.DefaultRegisterer in a program that serves
// promhttp.Handler() as the teacher's server does.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_polls_total",
			Help: "Total number of client.Poll invocations.",
		}),
		pollErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_poll_errors_total",
			Help: "Total number of poll invocations that returned an error.",
		}),
		requestQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kafka_consumer_request_queue_depth",
			Help: "Approximate number of requests waiting in the actor's request queue.",
		}),
		fetchesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kafka_consumer_fetches_pending",
			Help: "Number of fetch slots currently registered and unresolved across all partitions.",
		}),
		fetchesExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_fetches_expired_total",
			Help: "Total number of ExpiringFetch slots resolved by timer expiration.",
		}),
		fetchesRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_fetches_revoked_total",
			Help: "Total number of fetch slots resolved by partition revocation.",
		}),
		recordsConsumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_records_consumed_total",
			Help: "Total number of records delivered out of a poll to a fetcher or buffer.",
		}),
		rebalancesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_rebalances_total",
			Help: "Total number of polls that observed at least one partition revocation.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.pollsTotal,
			m.pollErrorsTotal,
			m.requestQueueDepth,
			m.fetchesPending,
			m.fetchesExpiredTotal,
			m.fetchesRevokedTotal,
			m.recordsConsumedTotal,
			m.rebalancesTotal,
		)
	}
	return m
}
