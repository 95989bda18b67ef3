// Package natsclient wraps a single nats.Conn for the billboard process.
//
// NATS is optional: when it is configured, the events package publishes
// snapshot, status and logo-manifest-updated messages through this client so
// other processes on the billboard host (the renderer, a kiosk supervisor)
// can follow the synchronization services without linking them.
//
// # Circuit breaker
//
// Every failed Connect is counted. After the threshold (default 5) failures
// in a round the circuit opens, Connect fails fast with errors.ErrCircuitOpen,
// and a timer half-opens it after the current backoff. Each opening doubles
// the backoff up to the configured maximum (default one minute). A successful
// connect or reconnect resets the breaker.
//
// # Usage
//
//	client, err := natsclient.NewClient(cfg.NATS.URL,
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(metrics))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    logger.Warn("NATS unavailable, continuing without it", "error", err)
//	}
//	defer client.Close(context.Background())
//
// Publish and Subscribe return ErrNotConnected when the connection is down;
// callers treat NATS delivery as best effort.
package natsclient
