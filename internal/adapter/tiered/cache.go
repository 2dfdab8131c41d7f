// Package tiered implements a two-level (L1 + L2) cache adapter. The L1
// level is the in-process cache; L2 is a shared store other instances see,
// so idempotent replays survive a restart or a load-balancer hop.
package tiered

import (
	"context"
	"time"

	"github.com/Strob0t/TaskForge/internal/port/cache"
)

// Cache combines an L1 (in-process) and L2 (shared) cache.
// Get checks L1 first, then L2, backfilling L1 on an L2 hit.
// Set and Delete operate on both levels.
type Cache struct {
	l1    cache.Cache
	l2    cache.Cache
	l1TTL time.Duration
}

var _ cache.Cache = (*Cache)(nil)

// New creates a tiered cache with the given L1 and L2 backends. l1TTL caps
// how long entries live in L1; the caller's TTL applies to L2 in full.
func New(l1, l2 cache.Cache, l1TTL time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1TTL: l1TTL}
}

// Get checks L1, then L2. On an L2 hit the entry is backfilled into L1.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		_ = c.l1.Set(ctx, key, val, c.l1TTL)
		return val, true, nil
	}

	return nil, false, nil
}

// Set writes to both levels. L1 gets the shorter of ttl and the configured
// L1 cap, since the in-process level exists to absorb bursts, not to hold
// the authoritative copy.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	l1TTL := ttl
	if c.l1TTL > 0 && (ttl <= 0 || c.l1TTL < ttl) {
		l1TTL = c.l1TTL
	}
	if err := c.l1.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete removes from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}
