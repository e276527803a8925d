package mockcluster

import "github.com/prometheus/client_golang/prometheus"

// metrics are the cluster's Prometheus instrumentation, following the
// teacher's own idiom of registering a handful of counters/gauges at
// startup (cmd/tempo/main.go's prometheus.MustRegister(version.NewCollector(...))).
// Each Cluster gets its own registry so multiple clusters can coexist in a
// single test binary without duplicate-registration panics.
type metrics struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	requestsHandled     *prometheus.CounterVec
	errorsInjected      *prometheus.CounterVec
	bytesAppended       prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mockkafka_connections_accepted_total",
			Help: "Total TCP connections accepted by any broker in the cluster.",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mockkafka_connections_closed_total",
			Help: "Total TCP connections closed by any broker in the cluster.",
		}),
		requestsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockkafka_requests_handled_total",
			Help: "Total requests handled, by ApiKey.",
		}, []string{"api_key"}),
		errorsInjected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockkafka_errors_injected_total",
			Help: "Total injected errors served from the error stack, by ApiKey.",
		}, []string{"api_key"}),
		bytesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mockkafka_bytes_appended_total",
			Help: "Total bytes appended to partition logs via Produce.",
		}),
	}
	reg.MustRegister(
		m.connectionsAccepted,
		m.connectionsClosed,
		m.requestsHandled,
		m.errorsInjected,
		m.bytesAppended,
	)
	return m
}

// Registry exposes the cluster's Prometheus registry, e.g. for the
// standalone server binary to mount alongside promhttp.Handler.
func (c *Cluster) Registry() *prometheus.Registry { return c.metrics.registry }
