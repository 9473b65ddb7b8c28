package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestPlaySessionPopOnce(t *testing.T) {
	c := NewPlaySessionCache(7200*time.Second, 500)
	c.Put("session-1", PlaySession{MessageID: 42, ChatID: -100, UserName: "alice"})

	s, ok := c.Pop("session-1")
	if !ok || s.MessageID != 42 {
		t.Fatalf("Pop: got (%+v, %v)", s, ok)
	}
	if _, ok := c.Pop("session-1"); ok {
		t.Error("second Pop for the same session must miss")
	}
}

func TestPlaySessionPopUnknown(t *testing.T) {
	c := NewPlaySessionCache(7200*time.Second, 500)
	if _, ok := c.Pop("never-started"); ok {
		t.Error("Pop on unknown session should miss silently")
	}
}

func TestPlaySessionCapacityEvictsOldest(t *testing.T) {
	const maxSize = 500
	c := NewPlaySessionCache(7200*time.Second, maxSize)

	for i := 0; i < maxSize+1; i++ {
		c.Put(fmt.Sprintf("session-%d", i), PlaySession{MessageID: i})
	}

	if c.Len() != maxSize {
		t.Fatalf("Len: got %d, want %d", c.Len(), maxSize)
	}
	if _, ok := c.Pop("session-0"); ok {
		t.Error("oldest-inserted entry should have been evicted")
	}
	// Everything else, newest included, survives.
	for i := 1; i < maxSize+1; i++ {
		if _, ok := c.Pop(fmt.Sprintf("session-%d", i)); !ok {
			t.Fatalf("session-%d should have survived eviction", i)
		}
	}
}

func TestPlaySessionReplaceKeepsSingleEntry(t *testing.T) {
	c := NewPlaySessionCache(7200*time.Second, 10)
	c.Put("session-1", PlaySession{MessageID: 1})
	c.Put("session-1", PlaySession{MessageID: 2})

	if c.Len() != 1 {
		t.Fatalf("at most one live entry per session id; Len=%d", c.Len())
	}
	s, _ := c.Pop("session-1")
	if s.MessageID != 2 {
		t.Errorf("replacement should win: got message id %d", s.MessageID)
	}
}

func TestPlaySessionSweep(t *testing.T) {
	c := NewPlaySessionCache(7200*time.Second, 500)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Put("stale", PlaySession{MessageID: 1})

	c.now = func() time.Time { return now.Add(3600 * time.Second) }
	c.Put("fresh", PlaySession{MessageID: 2})

	c.now = func() time.Time { return now.Add(7300 * time.Second) }
	if removed := c.Sweep(); removed != 1 {
		t.Errorf("Sweep: removed %d, want 1", removed)
	}
	if _, ok := c.Pop("fresh"); !ok {
		t.Error("fresh session should survive the sweep")
	}
}
