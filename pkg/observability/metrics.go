// Package observability wires connection and server telemetry into
// Prometheus metrics and OpenTelemetry traces.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string

	// MetricsPath is the HTTP path for the scrape endpoint (default /metrics).
	MetricsPath string

	// MetricsAddr is the listen address for the scrape server (default :9090).
	MetricsAddr string

	// Namespace is the Prometheus namespace (default mcp).
	Namespace string

	// HistogramBuckets override the default latency buckets (milliseconds).
	HistogramBuckets []float64

	ConstLabels prometheus.Labels
}

// Metrics collects protocol-level Prometheus metrics. All collectors live in
// a private registry so two stacks in one process never collide.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	outboundDuration *prometheus.HistogramVec
	outboundTotal    *prometheus.CounterVec
	inboundDuration  *prometheus.HistogramVec
	inboundTotal     *prometheus.CounterVec

	toolCallDuration  *prometheus.HistogramVec
	resourceReads     *prometheus.CounterVec
	promptExpansions  *prometheus.CounterVec
	connectionState   *prometheus.GaugeVec
	activeConnections prometheus.Gauge
	errorTotal        *prometheus.CounterVec
}

// NewMetrics creates a metrics provider with its own registry.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsAddr == "" {
		config.MetricsAddr = ":9090"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if config.ConstLabels == nil {
		config.ConstLabels = prometheus.Labels{}
	}
	if config.ServiceName != "" {
		config.ConstLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		config.ConstLabels["version"] = config.ServiceVersion
	}

	m := &Metrics{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	m.initCollectors()
	if err := m.register(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initCollectors() {
	ns := m.config.Namespace
	labels := m.config.ConstLabels

	m.outboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "outbound_request_duration_milliseconds",
			Help:        "Round-trip duration of outbound requests in milliseconds",
			Buckets:     m.config.HistogramBuckets,
			ConstLabels: labels,
		},
		[]string{"method", "status"},
	)
	m.outboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "outbound_request_total",
			Help:        "Total outbound requests",
			ConstLabels: labels,
		},
		[]string{"method", "status"},
	)
	m.inboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "inbound_request_duration_milliseconds",
			Help:        "Handler duration of inbound requests in milliseconds",
			Buckets:     m.config.HistogramBuckets,
			ConstLabels: labels,
		},
		[]string{"method", "status"},
	)
	m.inboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "inbound_request_total",
			Help:        "Total inbound requests",
			ConstLabels: labels,
		},
		[]string{"method", "status"},
	)
	m.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "tool_call_duration_milliseconds",
			Help:        "Duration of tool executions in milliseconds",
			Buckets:     m.config.HistogramBuckets,
			ConstLabels: labels,
		},
		[]string{"tool", "status"},
	)
	m.resourceReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "resource_read_total",
			Help:        "Total resource reads",
			ConstLabels: labels,
		},
		[]string{"status"},
	)
	m.promptExpansions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "prompt_expansion_total",
			Help:        "Total prompt expansions",
			ConstLabels: labels,
		},
		[]string{"prompt", "status"},
	)
	m.connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "connection_state",
			Help:        "Connection lifecycle state (1 for the current state, 0 otherwise)",
			ConstLabels: labels,
		},
		[]string{"state"},
	)
	m.activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "active_connections",
			Help:        "Number of active connections",
			ConstLabels: labels,
		},
	)
	m.errorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "error_total",
			Help:        "Total errors by category",
			ConstLabels: labels,
		},
		[]string{"category", "method"},
	)
}

func (m *Metrics) register() error {
	collectors := []prometheus.Collector{
		m.outboundDuration,
		m.outboundTotal,
		m.inboundDuration,
		m.inboundTotal,
		m.toolCallDuration,
		m.resourceReads,
		m.promptExpansions,
		m.connectionState,
		m.activeConnections,
		m.errorTotal,
	}
	for _, collector := range collectors {
		if err := m.registry.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// RecordOutboundRequest records one outbound request round trip.
func (m *Metrics) RecordOutboundRequest(method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	m.outboundDuration.WithLabelValues(method, status).Observe(ms)
	m.outboundTotal.WithLabelValues(method, status).Inc()
}

// RecordInboundRequest records one handled inbound request.
func (m *Metrics) RecordInboundRequest(method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	m.inboundDuration.WithLabelValues(method, status).Observe(ms)
	m.inboundTotal.WithLabelValues(method, status).Inc()
}

// RecordToolCall records one tool execution.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	m.toolCallDuration.WithLabelValues(tool, status).Observe(float64(duration.Milliseconds()))
}

// RecordResourceRead records one resource read.
func (m *Metrics) RecordResourceRead(status string) {
	m.resourceReads.WithLabelValues(status).Inc()
}

// RecordPromptExpansion records one prompt expansion.
func (m *Metrics) RecordPromptExpansion(prompt, status string) {
	m.promptExpansions.WithLabelValues(prompt, status).Inc()
}

// RecordConnectionState marks the given state as current. Earlier states are
// zeroed so the gauge always carries exactly one 1.
func (m *Metrics) RecordConnectionState(state string) {
	m.connectionState.Reset()
	m.connectionState.WithLabelValues(state).Set(1)
}

// RecordActiveConnections adjusts the active connection gauge.
func (m *Metrics) RecordActiveConnections(delta int) {
	m.activeConnections.Add(float64(delta))
}

// RecordError counts one error by category.
func (m *Metrics) RecordError(category, method string) {
	m.errorTotal.WithLabelValues(category, method).Inc()
}

// Handler returns the scrape handler for embedding in an existing mux.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Start serves the scrape endpoint on the configured address.
func (m *Metrics) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, m.Handler())

	m.server = &http.Server{
		Addr:    m.config.MetricsAddr,
		Handler: mux,
	}
	go func() { _ = m.server.ListenAndServe() }()
	return nil
}

// Shutdown stops the scrape server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		return m.server.Shutdown(ctx)
	}
	return nil
}
