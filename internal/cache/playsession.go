package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/embyguard/emby-guard/internal/metrics"
)

// PlaySession correlates a playback-start notification with its eventual
// stop-class event so the reply lands in the same message thread.
type PlaySession struct {
	MessageID int
	ChatID    int64
	ThreadID  int
	UserName  string
	StartedAt time.Time
}

// PlaySessionCache is a TTL cache with a hard capacity bound. Insertion beyond
// capacity evicts the single oldest entry by insertion order, independent of
// the TTL sweep. At most one live entry exists per session id.
type PlaySessionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = oldest inserted
	now     func() time.Time
}

type sessionElem struct {
	id      string
	session PlaySession
}

// NewPlaySessionCache creates a PlaySessionCache with the given TTL and capacity.
func NewPlaySessionCache(ttl time.Duration, maxSize int) *PlaySessionCache {
	return &PlaySessionCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Put registers a play session, replacing any existing entry for the same id
// in place (the original insertion position is kept). Inserting a new id at
// capacity evicts the oldest-inserted entry.
func (c *PlaySessionCache) Put(sessionID string, s PlaySession) {
	if s.StartedAt.IsZero() {
		s.StartedAt = c.now()
	}

	c.mu.Lock()
	if elem, ok := c.entries[sessionID]; ok {
		elem.Value.(*sessionElem).session = s
		c.mu.Unlock()
		return
	}
	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*sessionElem).id)
			metrics.CacheEvictions.WithLabelValues("play_session", "capacity").Inc()
		}
	}
	c.entries[sessionID] = c.order.PushBack(&sessionElem{id: sessionID, session: s})
	size := c.order.Len()
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues("play_session").Set(float64(size))
}

// Pop atomically removes and returns the session for sessionID.
// Returns false if no live entry exists (already consumed, expired, or never
// started; all equally fine for the caller to ignore).
func (c *PlaySessionCache) Pop(sessionID string) (PlaySession, bool) {
	c.mu.Lock()
	elem, ok := c.entries[sessionID]
	if !ok {
		c.mu.Unlock()
		return PlaySession{}, false
	}
	c.order.Remove(elem)
	delete(c.entries, sessionID)
	size := c.order.Len()
	c.mu.Unlock()

	metrics.CacheEvictions.WithLabelValues("play_session", "consumed").Inc()
	metrics.CacheEntries.WithLabelValues("play_session").Set(float64(size))
	return elem.Value.(*sessionElem).session, true
}

// Len returns the current entry count.
func (c *PlaySessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes entries older than the TTL and returns the removal count.
func (c *PlaySessionCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		se := elem.Value.(*sessionElem)
		if now.Sub(se.session.StartedAt) > c.ttl {
			c.order.Remove(elem)
			delete(c.entries, se.id)
			removed++
		}
		elem = next
	}
	size := c.order.Len()
	c.mu.Unlock()

	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("play_session", "expired").Add(float64(removed))
	}
	metrics.CacheEntries.WithLabelValues("play_session").Set(float64(size))
	return removed
}
