// Package cache defines the port interface for short-lived key-value
// caching, used to replay idempotent request responses.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. A Get after a
// successful Set for the same key must observe the value, until the ttl
// passes or the backend evicts it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
