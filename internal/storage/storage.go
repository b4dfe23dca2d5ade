package storage

import "context"

// ObjectStore is the archival sink for expired job records.
type ObjectStore interface {
	// Put writes one object.
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// EnsureBucket creates the bucket if it doesn't exist.
	EnsureBucket(ctx context.Context) error
}
