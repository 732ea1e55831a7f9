// Package cache provides the get/set-with-TTL collaborator used by the geo
// lookups. Values are opaque bytes; concurrent writers of the same key follow
// last-writer-wins.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// Get returns the value and true when key is present and not expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}
