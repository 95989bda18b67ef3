// Package retry provides exponential backoff for transient failures.
//
// # Inline retries
//
// Do and DoWithResult run an operation, sleeping between attempts with
// exponentially growing, optionally jittered delays. They are used for short
// operations such as downloading a single logo asset:
//
//	err := retry.Do(ctx, retry.Download(), func() error {
//	    return fetchAsset(ctx, item)
//	})
//
// Wrap an error with NonRetryable to stop immediately, for example when a
// downloaded file fails checksum verification.
//
// # Scheduled retries
//
// Backoff is an explicit Idle -> Retrying(n) -> Fallback state machine for
// pollers whose retries run on a timer. It never sleeps:
//
//	delay, state := backoff.Fail()
//	if state == retry.StateFallback {
//	    useDefaults()
//	} else {
//	    clock.AfterFunc(delay, fetchAgain)
//	}
//
// Delays double from the initial value and never exceed MaxScheduledDelay.
package retry
