// Package blob stores raw audio bytes and hands back opaque URL locations.
// Cache rows reference these locations but never own the bytes.
package blob

import "context"

// Store is the content store consumed by the cache and the orchestrator.
type Store interface {
	// Put writes data under name and returns the public location.
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)

	// Delete removes the blob behind a location previously returned by Put.
	// Missing blobs are not an error.
	Delete(ctx context.Context, location string) error
}
