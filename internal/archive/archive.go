// Package archive persists raw API response payloads so matches can be
// re-transformed later without re-fetching. Archival is optional and
// best-effort; the pipeline never fails an item because its raw copy could
// not be written.
package archive

import "context"

// Archiver stores one raw payload under a key.
type Archiver interface {
	// Put writes data under key and returns the stored object's URI.
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Noop discards payloads. Used when archival is disabled.
type Noop struct{}

// Put does nothing.
func (Noop) Put(_ context.Context, _ string, _ []byte) (string, error) {
	return "", nil
}
