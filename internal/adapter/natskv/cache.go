// Package natskv implements the cache port on a NATS JetStream KV bucket,
// giving every instance behind a load balancer the same idempotency view.
package natskv

import (
	"context"
	"encoding/base32"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/TaskForge/internal/port/cache"
)

// Cache wraps a NATS JetStream KeyValue bucket as a shared cache. Keys are
// client-supplied and can contain characters NATS subjects reject, so every
// key is base32-encoded before it touches the bucket.
type Cache struct {
	kv jetstream.KeyValue
}

var _ cache.Cache = (*Cache)(nil)

var keyEnc = base32.StdEncoding.WithPadding(base32.NoPadding)

// New wraps an existing KV bucket.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Ensure creates or binds the named bucket with the given per-entry TTL and
// returns a cache on it. JetStream applies the TTL bucket-wide, which is why
// the per-call TTL on Set is ignored.
func Ensure(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*Cache, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, err
	}
	return New(kv), nil
}

// Get retrieves a value from the bucket.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, keyEnc.EncodeToString([]byte(key)))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value in the bucket. The TTL argument is ignored; expiry is
// configured on the bucket itself.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, keyEnc.EncodeToString([]byte(key)), value)
	return err
}

// Delete removes a value from the bucket.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, keyEnc.EncodeToString([]byte(key)))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
