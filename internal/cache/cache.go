package cache

import (
	"sync"
	"time"

	"github.com/embyguard/emby-guard/internal/metrics"
)

// HostAssociation records which reverse-proxy host a client last connected through.
type HostAssociation struct {
	Host   string
	SeenAt time.Time
}

// HostCache maps a client/device identifier to its last observed request host.
// The gateway writes on every parsed request; the event notifier reads.
// Entries expire after ttl and are removed by the janitor sweep.
type HostCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]HostAssociation
	now     func() time.Time
}

// NewHostCache creates a HostCache with the given TTL.
func NewHostCache(ttl time.Duration) *HostCache {
	return &HostCache{
		ttl:     ttl,
		entries: make(map[string]HostAssociation),
		now:     time.Now,
	}
}

// Put records the host a key was last seen through, replacing any prior value.
func (c *HostCache) Put(key, host string) {
	c.mu.Lock()
	c.entries[key] = HostAssociation{Host: host, SeenAt: c.now()}
	c.mu.Unlock()
	metrics.CacheEntries.WithLabelValues("host_association").Set(float64(c.Len()))
}

// Get returns the host associated with key. Entries older than the TTL are
// treated as absent even before the janitor sweeps them.
func (c *HostCache) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.SeenAt) > c.ttl {
		return "", false
	}
	return entry.Host, true
}

// Remove deletes key if present.
func (c *HostCache) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the current entry count.
func (c *HostCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes entries older than the TTL and returns the removal count.
// It collects expired keys from a snapshot so request handlers can keep
// mutating the map between the two phases.
func (c *HostCache) Sweep() int {
	now := c.now()

	c.mu.RLock()
	expired := make([]string, 0)
	for key, entry := range c.entries {
		if now.Sub(entry.SeenAt) > c.ttl {
			expired = append(expired, key)
		}
	}
	c.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}

	c.mu.Lock()
	removed := 0
	for _, key := range expired {
		entry, ok := c.entries[key]
		// Re-check: the entry may have been refreshed since the snapshot.
		if ok && now.Sub(entry.SeenAt) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("host_association", "expired").Add(float64(removed))
	}
	metrics.CacheEntries.WithLabelValues("host_association").Set(float64(c.Len()))
	return removed
}

// Decision is a cached gateway allow/deny outcome.
type Decision struct {
	Allowed   bool
	DecidedAt time.Time
}

// DecisionCache holds recent gateway decisions keyed by (user id, request host).
// An entry older than the cooldown window is treated as absent; the cache is
// deliberately exempt from the janitor sweep, staleness is a read-path check.
type DecisionCache struct {
	mu       sync.RWMutex
	cooldown time.Duration
	entries  map[decisionKey]Decision
	now      func() time.Time
}

type decisionKey struct {
	userID string
	host   string
}

// NewDecisionCache creates a DecisionCache with the given cooldown window.
func NewDecisionCache(cooldown time.Duration) *DecisionCache {
	return &DecisionCache{
		cooldown: cooldown,
		entries:  make(map[decisionKey]Decision),
		now:      time.Now,
	}
}

// Get returns the cached decision for (userID, host) if it is still within
// the cooldown window.
func (c *DecisionCache) Get(userID, host string) (Decision, bool) {
	c.mu.RLock()
	d, ok := c.entries[decisionKey{userID, host}]
	c.mu.RUnlock()
	if !ok || c.now().Sub(d.DecidedAt) >= c.cooldown {
		return Decision{}, false
	}
	return d, true
}

// Put records a decision for (userID, host), overwriting any prior entry.
func (c *DecisionCache) Put(userID, host string, allowed bool) {
	c.mu.Lock()
	c.entries[decisionKey{userID, host}] = Decision{Allowed: allowed, DecidedAt: c.now()}
	c.mu.Unlock()
	metrics.CacheEntries.WithLabelValues("auth_decision").Set(float64(c.Len()))
}

// Invalidate drops every cached decision for userID across all hosts.
// Administrative hook for external trust-level changes; not on the hot path.
func (c *DecisionCache) Invalidate(userID string) {
	c.mu.Lock()
	for key := range c.entries {
		if key.userID == userID {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Len returns the current entry count, including stale entries not yet overwritten.
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
