package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testConfig() Config {
	return Config{
		Window:      900 * time.Second,
		MaxRequests: 3,
		NonceWindow: 5 * time.Second,
	}
}

func TestAllowCeilingBoundary(t *testing.T) {
	s := NewMemory(testConfig()).(*memoryStore)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limited, err := s.Allow(ctx, "user-1", "1.2.3.4")
		if err != nil || limited != "" {
			t.Fatalf("attempt %d: got (%q, %v)", i+1, limited, err)
		}
	}

	limited, err := s.Allow(ctx, "user-1", "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if limited != LimitedUser {
		t.Errorf("ceiling+1 should be limited by user namespace, got %q", limited)
	}
}

func TestAllowWindowReset(t *testing.T) {
	s := NewMemory(testConfig()).(*memoryStore)
	ctx := context.Background()
	base := time.Now()
	s.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if limited, _ := s.Allow(ctx, "user-1", "1.2.3.4"); limited != "" {
			t.Fatalf("attempt %d limited", i+1)
		}
	}
	if limited, _ := s.Allow(ctx, "user-1", "1.2.3.4"); limited == "" {
		t.Fatal("4th attempt within window should be limited")
	}

	s.now = func() time.Time { return base.Add(901 * time.Second) }
	if limited, _ := s.Allow(ctx, "user-1", "1.2.3.4"); limited != "" {
		t.Error("counter should reset after the window elapses")
	}
}

func TestAllowIPNamespaceIndependent(t *testing.T) {
	s := NewMemory(testConfig()).(*memoryStore)
	ctx := context.Background()

	// Three different users from the same IP exhaust the IP ceiling.
	for i, user := range []string{"u1", "u2", "u3"} {
		if limited, _ := s.Allow(ctx, user, "1.2.3.4"); limited != "" {
			t.Fatalf("attempt %d limited", i+1)
		}
	}
	limited, _ := s.Allow(ctx, "u4", "1.2.3.4")
	if limited != LimitedIP {
		t.Errorf("fresh user on hot IP should be limited by IP namespace, got %q", limited)
	}

	// A fresh IP is unaffected.
	if limited, _ := s.Allow(ctx, "u5", "5.6.7.8"); limited != "" {
		t.Errorf("fresh IP should be allowed, got %q", limited)
	}
}

func TestConsumeNonceSingleUse(t *testing.T) {
	s := NewMemory(testConfig()).(*memoryStore)
	ctx := context.Background()

	ok, err := s.ConsumeNonce(ctx, "abc123")
	if err != nil || !ok {
		t.Fatalf("first consume: got (%v, %v)", ok, err)
	}
	ok, _ = s.ConsumeNonce(ctx, "abc123")
	if ok {
		t.Error("repeat within the freshness window must be rejected")
	}
}

func TestConsumeNonceReusableAfterWindow(t *testing.T) {
	s := NewMemory(testConfig()).(*memoryStore)
	ctx := context.Background()
	base := time.Now()
	s.now = func() time.Time { return base }

	if ok, _ := s.ConsumeNonce(ctx, "abc123"); !ok {
		t.Fatal("first consume rejected")
	}

	s.now = func() time.Time { return base.Add(6 * time.Second) }
	if ok, _ := s.ConsumeNonce(ctx, "abc123"); !ok {
		t.Error("nonce should be consumable again once its window elapsed")
	}
}

// failingStore simulates a dead shared backend.
type failingStore struct{ calls int }

func (f *failingStore) Allow(context.Context, string, string) (string, error) {
	f.calls++
	return "", errors.New("connection refused")
}

func (f *failingStore) ConsumeNonce(context.Context, string) (bool, error) {
	f.calls++
	return false, errors.New("connection refused")
}

func TestDegradePermanentFallback(t *testing.T) {
	shared := &failingStore{}
	s := NewDegrading(shared, NewMemory(testConfig()), zerolog.Nop())
	ctx := context.Background()

	// The failed request is retried on the fallback and still answered.
	limited, err := s.Allow(ctx, "user-1", "1.2.3.4")
	if err != nil || limited != "" {
		t.Fatalf("degraded Allow: got (%q, %v)", limited, err)
	}
	if shared.calls != 1 {
		t.Fatalf("shared backend calls: got %d", shared.calls)
	}

	// The shared backend is never consulted again.
	for i := 0; i < 5; i++ {
		if _, err := s.Allow(ctx, "user-1", "1.2.3.4"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ConsumeNonce(ctx, "nonce"); err != nil {
			t.Fatal(err)
		}
	}
	if shared.calls != 1 {
		t.Errorf("fallback must be permanent; shared backend called %d times", shared.calls)
	}
}

func TestDegradedStateSharedAcrossOperations(t *testing.T) {
	shared := &failingStore{}
	s := NewDegrading(shared, NewMemory(testConfig()), zerolog.Nop())
	ctx := context.Background()

	// A nonce failure degrades rate-limit traffic too.
	if ok, err := s.ConsumeNonce(ctx, "abc"); err != nil || !ok {
		t.Fatalf("degraded ConsumeNonce: got (%v, %v)", ok, err)
	}
	if _, err := s.Allow(ctx, "u", "ip"); err != nil {
		t.Fatal(err)
	}
	if shared.calls != 1 {
		t.Errorf("shared backend calls: got %d, want 1", shared.calls)
	}
}
