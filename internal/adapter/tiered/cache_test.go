package tiered_test

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/TaskForge/internal/adapter/tiered"
	"github.com/Strob0t/TaskForge/internal/port/cache/cachetest"
)

// memCache records the TTL of the last Set per key, so the split-TTL
// behavior is observable.
type memCache struct {
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func TestTiered_Contract(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache(), newMemCache(), 5*time.Minute))
}

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	// Set only in L1
	l1.data["key1"] = []byte("val1")

	val, found, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L1 hit")
	}
	if string(val) != "val1" {
		t.Fatalf("expected val1, got %s", val)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	// Set only in L2
	l2.data["key2"] = []byte("val2")

	val, found, err := c.Get(ctx, "key2")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L2 hit")
	}
	if string(val) != "val2" {
		t.Fatalf("expected val2, got %s", val)
	}

	// Verify backfill into L1 at the L1 cap
	l1Val, ok := l1.data["key2"]
	if !ok {
		t.Fatal("expected L1 backfill")
	}
	if string(l1Val) != "val2" {
		t.Fatalf("expected backfilled val2, got %s", l1Val)
	}
	if l1.ttls["key2"] != 5*time.Minute {
		t.Fatalf("expected backfill TTL of 5m, got %v", l1.ttls["key2"])
	}
}

func TestTiered_Miss(t *testing.T) {
	c := tiered.New(newMemCache(), newMemCache(), 5*time.Minute)

	_, found, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTiered_SetSplitsTTL(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "key3", []byte("val3"), time.Hour); err != nil {
		t.Fatal(err)
	}

	if l1.ttls["key3"] != time.Minute {
		t.Fatalf("expected L1 TTL capped at 1m, got %v", l1.ttls["key3"])
	}
	if l2.ttls["key3"] != time.Hour {
		t.Fatalf("expected L2 to keep the full 1h TTL, got %v", l2.ttls["key3"])
	}

	// A TTL under the cap passes through unchanged.
	if err := c.Set(ctx, "key4", []byte("val4"), 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if l1.ttls["key4"] != 10*time.Second {
		t.Fatalf("expected L1 TTL of 10s, got %v", l1.ttls["key4"])
	}
}

func TestTiered_DeleteBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l1.data["key5"] = []byte("val5")
	l2.data["key5"] = []byte("val5")

	if err := c.Delete(ctx, "key5"); err != nil {
		t.Fatal(err)
	}

	if _, ok := l1.data["key5"]; ok {
		t.Fatal("expected key5 deleted from L1")
	}
	if _, ok := l2.data["key5"]; ok {
		t.Fatal("expected key5 deleted from L2")
	}
}
