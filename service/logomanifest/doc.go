// Package logomanifest implements the logo manifest service. It polls a
// remote manifest, validates it against a JSON schema, skips documents whose
// version has already been processed, keeps logos unique by id and sorted by
// priority, and caches each logo asset on disk keyed by checksum.
//
// A version is announced exactly once with a logo-manifest-updated event.
package logomanifest
