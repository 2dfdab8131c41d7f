// Package cachetest holds the contract test suite every cache backend must
// pass. Adapter tests call Run with a ready-to-use instance.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/TaskForge/internal/port/cache"
)

// Run exercises the Cache contract against c.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "contract-key", []byte("contract-val"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "contract-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != "contract-val" {
			t.Fatalf("expected contract-val, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "del-key", []byte("del-val"), time.Minute)
		if err := c.Delete(ctx, "del-key"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "del-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "ow-key", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "ow-key", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "ow-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})

	t.Run("RawKeys", func(t *testing.T) {
		// Idempotency keys are client-supplied, so backends must take any
		// printable key as-is.
		key := "POST /api/v1/tasks?x=1 #key:with spaces"
		if err := c.Set(ctx, key, []byte("raw"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "raw" {
			t.Fatalf("expected raw key round-trip, got found=%v val=%q", found, val)
		}
	})
}
