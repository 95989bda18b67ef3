// Package metric provides Prometheus metrics and the HTTP server that exposes
// them for the billboard synchronization services.
//
// # Architecture
//
//  1. Core metrics: transport, data flow, manifest and outbound metrics shared
//     by every service (Metrics type), registered automatically.
//  2. Service registry: extra per-service collectors (MetricsRegistrar).
//  3. HTTP server: /metrics in Prometheus format plus a /health probe.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("metrics server failed", "error", err)
//	    }
//	}()
//
//	registry.CoreMetrics().RecordFetch("weather", "success", elapsed)
//
// Services accept a nil *Metrics and skip recording in that case.
package metric
