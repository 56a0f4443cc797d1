package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the compliance API.
type Metrics struct {
	ReportsReceived prometheus.Counter
	AppendErrors    prometheus.Counter
	EvalErrors      prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReportsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetcomply_reports_received_total",
			Help: "Total number of agent reports accepted",
		}),
		AppendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetcomply_report_append_errors_total",
			Help: "Total number of report persistence failures",
		}),
		EvalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetcomply_rule_eval_errors_total",
			Help: "Total number of rule conditions that could not be evaluated",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetcomply_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}
