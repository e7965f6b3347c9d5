package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webhook_bridge"

// Webhook receive results.
const (
	ResultQueued     = "queued"
	ResultInvalid    = "invalid"
	ResultUnknown    = "unknown_hook"
	ResultError      = "error"
	ResultSent       = "sent"
	ResultDenied     = "denied"
	ResultFailed     = "failed"
	ResultOK         = "ok"
	ResultPermission = "permission"
)

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	WebhooksReceived     *prometheus.CounterVec
	MessagesDelivered    *prometheus.CounterVec
	PipelineDuration     prometheus.Histogram
	ProvisioningRequests *prometheus.CounterVec
	TransactionsReceived prometheus.Counter
	QueueDepth           prometheus.Gauge
}

// NewMetrics creates the collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
		WebhooksReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_received_total",
				Help:      "Webhook calls by outcome",
			},
			[]string{"result"},
		),
		MessagesDelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_delivered_total",
				Help:      "Queued webhook events by delivery outcome",
			},
			[]string{"result"},
		),
		PipelineDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_duration_seconds",
				Help:      "Time spent turning a payload into a Matrix message",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
		),
		ProvisioningRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisioning_requests_total",
				Help:      "Provisioning API requests by operation and outcome",
			},
			[]string{"operation", "result"},
		),
		TransactionsReceived: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "appservice_transactions_total",
				Help:      "Appservice transactions accepted from the homeserver",
			},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Webhook events waiting in the in-process queue",
			},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
