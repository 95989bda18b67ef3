// Package errors provides standardized error handling for the billboard
// synchronization services.
//
// # Overview
//
// Errors fall into three classes: Transient (network timeouts, dropped MQTT
// sessions, non-2xx HTTP responses), Invalid (malformed payloads, schema
// mismatches, bad or placeholder auth tokens), and Fatal (reconnect attempts
// exhausted, use after destroy).
//
// Transport and parse errors are absorbed into connection status fields by
// the services. Configuration errors are the one category returned to the
// caller, as a Result, so a setup screen can prompt for a corrected value:
//
//	if err := validateToken(raw); err != nil {
//	    return errors.Failed(err)
//	}
//
// # Wrapping
//
// Wrap produces messages of the form "component.method: action failed: cause":
//
//	return errors.WrapTransient(err, "Poller", "FetchData", "fetch weather")
//
// Classification survives wrapping, so callers use IsTransient, IsInvalid,
// IsFatal and IsConfigError with errors.Is/As semantics.
package errors
