package sim

import (
	"github.com/prometheus/client_golang/prometheus"
)

// simMetrics carries the simulator's own registry so several simulators can
// run in one process without collector collisions.
type simMetrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	invocationsTotal *prometheus.CounterVec
	streamClients    prometheus.Gauge
	linesPublished   prometheus.Counter
}

func newSimMetrics() *simMetrics {
	m := &simMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logprobe_sim_requests_total",
			Help: "API requests handled, partitioned by route and status code",
		}, []string{"route", "code"}),
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logprobe_sim_invocations_total",
			Help: "Function invocations, partitioned by site and function",
		}, []string{"site", "function"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logprobe_sim_logstream_clients",
			Help: "Currently connected log-stream clients",
		}),
		linesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logprobe_sim_log_lines_published_total",
			Help: "Log lines fanned out to stream subscribers",
		}),
	}
	m.registry.MustRegister(m.requestsTotal, m.invocationsTotal, m.streamClients, m.linesPublished)
	return m
}
