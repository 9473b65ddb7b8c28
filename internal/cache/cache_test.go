package cache

import (
	"testing"
	"time"
)

func TestHostCachePutGet(t *testing.T) {
	c := NewHostCache(600 * time.Second)
	c.Put("device-1", "line-a.example.com")

	host, ok := c.Get("device-1")
	if !ok || host != "line-a.example.com" {
		t.Errorf("Get: got (%q, %v)", host, ok)
	}

	if _, ok := c.Get("device-2"); ok {
		t.Error("unknown key should be absent")
	}
}

func TestHostCacheOverwrite(t *testing.T) {
	c := NewHostCache(600 * time.Second)
	c.Put("device-1", "line-a.example.com")
	c.Put("device-1", "line-b.example.com")

	host, _ := c.Get("device-1")
	if host != "line-b.example.com" {
		t.Errorf("expected whole-value replacement, got %q", host)
	}
	if c.Len() != 1 {
		t.Errorf("Len: got %d", c.Len())
	}
}

func TestHostCacheExpiryOnRead(t *testing.T) {
	c := NewHostCache(600 * time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put("device-1", "line-a.example.com")

	c.now = func() time.Time { return now.Add(601 * time.Second) }
	if _, ok := c.Get("device-1"); ok {
		t.Error("entry older than TTL should be treated as absent")
	}
}

func TestHostCacheSweep(t *testing.T) {
	c := NewHostCache(600 * time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put("old", "line-a")

	c.now = func() time.Time { return now.Add(300 * time.Second) }
	c.Put("fresh", "line-b")

	c.now = func() time.Time { return now.Add(700 * time.Second) }
	if removed := c.Sweep(); removed != 1 {
		t.Errorf("Sweep: removed %d, want 1", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry should survive the sweep")
	}
	if c.Len() != 1 {
		t.Errorf("Len after sweep: got %d", c.Len())
	}
}

func TestDecisionCacheCooldown(t *testing.T) {
	c := NewDecisionCache(300 * time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("user-1", "line-a", true)

	d, ok := c.Get("user-1", "line-a")
	if !ok || !d.Allowed {
		t.Fatalf("Get within cooldown: got (%+v, %v)", d, ok)
	}

	// Same user, different host is a distinct key.
	if _, ok := c.Get("user-1", "line-b"); ok {
		t.Error("different host should miss")
	}

	c.now = func() time.Time { return now.Add(300 * time.Second) }
	if _, ok := c.Get("user-1", "line-a"); ok {
		t.Error("entry at cooldown age should be treated as absent")
	}
}

func TestDecisionCacheOverwrite(t *testing.T) {
	c := NewDecisionCache(300 * time.Second)
	c.Put("user-1", "line-a", true)
	c.Put("user-1", "line-a", false)

	d, ok := c.Get("user-1", "line-a")
	if !ok || d.Allowed {
		t.Errorf("re-decision should overwrite: got (%+v, %v)", d, ok)
	}
}

func TestDecisionCacheInvalidate(t *testing.T) {
	c := NewDecisionCache(300 * time.Second)
	c.Put("user-1", "line-a", true)
	c.Put("user-1", "line-b", false)
	c.Put("user-2", "line-a", true)

	c.Invalidate("user-1")

	if _, ok := c.Get("user-1", "line-a"); ok {
		t.Error("user-1 line-a should be gone")
	}
	if _, ok := c.Get("user-1", "line-b"); ok {
		t.Error("user-1 line-b should be gone")
	}
	if _, ok := c.Get("user-2", "line-a"); !ok {
		t.Error("user-2 should be untouched")
	}
}
