// Package httppoll provides the HTTP polling transport used by the weather
// and logo manifest services.
//
// A Poller runs one fetch function on a fixed interval. Fetches never overlap:
// a periodic tick, a scheduled retry or a manual refresh that arrives while a
// fetch is in flight is skipped rather than queued.
//
// Failures are scheduled for retry with exponential backoff (capped at
// 30 minutes). After MaxRetries consecutive failures the Poller invokes the
// fallback hook, which lets the owning service publish default data, and the
// failure counter starts over.
//
//	p := httppoll.New(httppoll.Config{Name: "weather", Interval: 10 * time.Minute},
//	    svc.fetch, httppoll.WithFallback(svc.useFallback))
//	p.Start(ctx)
//	defer p.Stop()
//
// GetJSON is the shared request helper: bounded body, status check and JSON
// decode, with non-2xx responses classified as transient errors.
package httppoll
