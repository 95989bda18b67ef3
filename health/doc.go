// Package health reports the health of the billboard synchronization services.
//
// Each facade maps its syncstate.ConnectionStatus onto a Status with
// FromConnectionStatus and downgrades it with WithDataAge when its snapshot
// is older than the domain's freshness threshold. The service Manager rolls
// those up with Aggregate and serves them on /health, /healthz and /readyz.
//
// Error text is passed through Sanitize before it is exposed, so broker URLs,
// file paths and gateway tokens never reach an HTTP response.
//
//	m := health.NewMonitor()
//	m.Register("iot", iotService.Health)
//	m.UpdateDegraded("nats", "reconnecting")
//	overall := m.AggregateHealth("billboard")
package health
