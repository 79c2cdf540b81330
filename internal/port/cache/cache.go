// Package cache defines the port interface for byte-value caching. The
// runtime uses it for per-user prompt content so a turn does not hit
// Postgres on every iteration.
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key joins parts into a namespaced cache key. Parts must not contain ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
