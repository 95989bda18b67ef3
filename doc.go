// Package billboard is the data synchronization core behind an LED billboard
// display.
//
// Four facades keep the display's data current and tell it when something
// changes:
//
//   - service/iot subscribes to the gateway's MQTT topics and folds
//     temperature, humidity, PM2.5 and PM10 readings into one snapshot.
//   - service/weather polls Open-Meteo and falls back to a static snapshot
//     when the API stays unreachable.
//   - service/logomanifest polls the sponsor logo manifest, downloads logo
//     assets into a local cache and announces new manifest versions.
//   - service/bannersync turns the manifest into the rotation the display
//     shows, honoring loop mode, per-logo schedules and the loop duration.
//
// Each facade follows the same lifecycle (Uninitialized, Connecting,
// Connected, Reconnecting, Disconnected, Error), keeps the latest snapshot
// for late subscribers, and gates user-triggered refreshes through a shared
// refresh policy. service.Manager owns one instance of each and serves
// /health, /readyz and /services.
//
// Snapshots, status changes and manifest updates leave the process through
// events.Bus, which fans each envelope out to NATS (natsclient) and to
// display clients on the WebSocket hub (output/websocket).
//
// # Layout
//
//	cmd/billboard-sync   process entry point
//	config               layered JSON/YAML configuration
//	service/...          the facades and their Manager
//	input/mqtt           MQTT transport
//	input/httppoll       HTTP polling transport
//	pkg/...              extraction, subscriptions, refresh policy, retry, clock
//	events, natsclient   event envelopes and NATS publishing
//	output/websocket     display push hub
//	metric, health       Prometheus metrics and health reporting
package billboard
