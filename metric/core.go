package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "billboard"

// Metrics contains the metrics shared by every synchronization service
type Metrics struct {
	// Service metrics
	ServiceState       *prometheus.GaugeVec
	TransportConnected *prometheus.GaugeVec
	Reconnects         *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec

	// Data flow metrics
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	ParseFailures    *prometheus.CounterVec
	FetchTotal       *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	CallbackPanics   *prometheus.CounterVec

	// Manifest metrics
	ManifestUpdates prometheus.Counter
	AssetDownloads  *prometheus.CounterVec

	// Outbound surfaces
	WebSocketClients prometheus.Gauge
	NATSConnected    prometheus.Gauge
	NATSReconnects   prometheus.Counter
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "state",
				Help:      "Service state (0=uninitialized, 1=connecting, 2=connected, 3=reconnecting, 4=disconnected, 5=error)",
			},
			[]string{"service"},
		),

		TransportConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "connected",
				Help:      "Transport connection status (0=disconnected, 1=connected)",
			},
			[]string{"service"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "reconnects_total",
				Help:      "Total number of transport reconnect attempts",
			},
			[]string{"service"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by class",
			},
			[]string{"service", "class"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of transport messages received",
			},
			[]string{"service", "field"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Total number of messages dropped",
			},
			[]string{"service", "reason"},
		),

		ParseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "parse_failures_total",
				Help:      "Total number of payloads no extraction strategy could read",
			},
			[]string{"service", "field"},
		),

		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fetch",
				Name:      "total",
				Help:      "Total number of polling fetches by result",
			},
			[]string{"service", "result"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "fetch",
				Name:      "duration_seconds",
				Help:      "Polling fetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		CallbackPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscribers",
				Name:      "panics_total",
				Help:      "Total number of recovered subscriber callback panics",
			},
			[]string{"registry"},
		),

		ManifestUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "manifest",
				Name:      "updates_total",
				Help:      "Total number of applied logo manifest versions",
			},
		),

		AssetDownloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "manifest",
				Name:      "asset_downloads_total",
				Help:      "Logo asset downloads by result (downloaded, cached, failed)",
			},
			[]string{"result"},
		),

		WebSocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "websocket",
				Name:      "clients",
				Help:      "Number of connected WebSocket clients",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// collectors returns every metric for registration
func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceState,
		c.TransportConnected,
		c.Reconnects,
		c.ErrorsTotal,
		c.MessagesReceived,
		c.MessagesDropped,
		c.ParseFailures,
		c.FetchTotal,
		c.FetchDuration,
		c.CallbackPanics,
		c.ManifestUpdates,
		c.AssetDownloads,
		c.WebSocketClients,
		c.NATSConnected,
		c.NATSReconnects,
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// RecordServiceState updates the lifecycle state gauge
func (c *Metrics) RecordServiceState(service string, state int) {
	c.ServiceState.WithLabelValues(service).Set(float64(state))
}

// RecordTransportConnected updates the transport connection gauge
func (c *Metrics) RecordTransportConnected(service string, connected bool) {
	c.TransportConnected.WithLabelValues(service).Set(boolToFloat(connected))
}

// RecordReconnect increments the reconnect counter
func (c *Metrics) RecordReconnect(service string) {
	c.Reconnects.WithLabelValues(service).Inc()
}

// RecordError increments the error counter
func (c *Metrics) RecordError(service, class string) {
	c.ErrorsTotal.WithLabelValues(service, class).Inc()
}

// RecordMessageReceived increments the received message counter
func (c *Metrics) RecordMessageReceived(service, field string) {
	c.MessagesReceived.WithLabelValues(service, field).Inc()
}

// RecordMessageDropped increments the dropped message counter
func (c *Metrics) RecordMessageDropped(service, reason string) {
	c.MessagesDropped.WithLabelValues(service, reason).Inc()
}

// RecordParseFailure increments the parse failure counter
func (c *Metrics) RecordParseFailure(service, field string) {
	c.ParseFailures.WithLabelValues(service, field).Inc()
}

// RecordFetch counts a fetch and observes its duration
func (c *Metrics) RecordFetch(service, result string, duration time.Duration) {
	c.FetchTotal.WithLabelValues(service, result).Inc()
	c.FetchDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordCallbackPanic increments the recovered panic counter
func (c *Metrics) RecordCallbackPanic(registry string) {
	c.CallbackPanics.WithLabelValues(registry).Inc()
}

// RecordManifestUpdate increments the manifest update counter
func (c *Metrics) RecordManifestUpdate() {
	c.ManifestUpdates.Inc()
}

// RecordAssetDownload counts a logo asset by result
func (c *Metrics) RecordAssetDownload(result string) {
	c.AssetDownloads.WithLabelValues(result).Inc()
}

// RecordWebSocketClients sets the connected client gauge
func (c *Metrics) RecordWebSocketClients(n int) {
	c.WebSocketClients.Set(float64(n))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolToFloat(connected))
}

// RecordNATSReconnect increments the NATS reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
