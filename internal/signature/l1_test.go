package signature

import (
	"testing"
	"time"
)

func TestL1_SetGet(t *testing.T) {
	c := NewL1(L1Options{})
	now := time.Now()
	c.Set("key-1", Entry{Signature: "sig-1"}, now)

	got, ok := c.Get("key-1", now)
	if !ok || got.Signature != "sig-1" {
		t.Fatalf("expected a cache hit with sig-1, got %+v ok=%v", got, ok)
	}
}

func TestL1_ExpiresByTTL(t *testing.T) {
	c := NewL1(L1Options{TTL: time.Minute})
	now := time.Now()
	c.Set("key-1", Entry{Signature: "sig-1"}, now)

	if _, ok := c.Get("key-1", now.Add(2*time.Minute)); ok {
		t.Error("expected the entry to have expired past its TTL")
	}
}

func TestL1_EvictsLRUPastMaxSize(t *testing.T) {
	c := NewL1(L1Options{MaxSize: 2, Eviction: EvictLRU})
	now := time.Now()
	c.Set("a", Entry{Signature: "a"}, now)
	c.Set("b", Entry{Signature: "b"}, now)
	c.Get("a", now) // touch a, making b the least-recently-used
	c.Set("c", Entry{Signature: "c"}, now)

	if _, ok := c.Get("b", now); ok {
		t.Error("expected b evicted as the least-recently-used entry")
	}
	if _, ok := c.Get("a", now); !ok {
		t.Error("expected a to survive since it was touched before the eviction")
	}
	if c.Len() != 2 {
		t.Errorf("expected the cache bounded at MaxSize=2, got %d", c.Len())
	}
}

func TestL1_Delete(t *testing.T) {
	c := NewL1(L1Options{})
	now := time.Now()
	c.Set("key-1", Entry{Signature: "sig-1"}, now)
	c.Delete("key-1")
	if _, ok := c.Get("key-1", now); ok {
		t.Error("expected the entry removed after Delete")
	}
}

func TestL1_Sweep(t *testing.T) {
	c := NewL1(L1Options{})
	now := time.Now()
	c.Set("expired", Entry{Signature: "s", ExpiresAt: now.Add(-time.Minute)}, now)
	c.Set("fresh", Entry{Signature: "s"}, now)

	removed := c.Sweep(now)
	if removed != 1 {
		t.Errorf("expected 1 expired entry swept, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected only the fresh entry to remain, got len=%d", c.Len())
	}
}
