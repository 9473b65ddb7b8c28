// Package limiter provides the check-in pipeline's rate-limit and
// nonce/replay stores. Both concerns live behind one interface so the
// pipeline can run against the in-process backend or a shared Redis
// backend without caring which is active.
package limiter

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Namespaces reported by Allow when a ceiling is hit.
const (
	LimitedUser = "user"
	LimitedIP   = "ip"
)

// Store gates check-in attempts.
type Store interface {
	// Allow prunes both sliding windows, checks the per-user and per-IP
	// ceilings, and on pass records the attempt in both namespaces.
	// Returns the limited namespace (LimitedUser/LimitedIP) or "" when the
	// attempt is allowed.
	Allow(ctx context.Context, userKey, ipKey string) (string, error)

	// ConsumeNonce marks nonce as used for the freshness window.
	// Returns false if the nonce was already consumed.
	ConsumeNonce(ctx context.Context, nonce string) (bool, error)
}

// Config holds the shared limiter parameters.
type Config struct {
	Window      time.Duration // sliding rate-limit window
	MaxRequests int           // ceiling per namespace within the window
	NonceWindow time.Duration // nonce validity / freshness window
}

// memoryStore is the process-local backend: two timestamp-sequence maps for
// the rate windows and a set of consumed nonces.
type memoryStore struct {
	cfg Config

	mu     sync.Mutex
	user   map[string][]int64 // unix seconds within the window
	ip     map[string][]int64
	nonces map[string]time.Time // nonce -> consumed-at

	now func() time.Time
}

// NewMemory creates the in-process Store.
func NewMemory(cfg Config) Store {
	return &memoryStore{
		cfg:    cfg,
		user:   make(map[string][]int64),
		ip:     make(map[string][]int64),
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *memoryStore) Allow(_ context.Context, userKey, ipKey string) (string, error) {
	now := s.now().Unix()
	cutoff := now - int64(s.cfg.Window/time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.user[userKey] = pruneBefore(s.user[userKey], cutoff)
	s.ip[ipKey] = pruneBefore(s.ip[ipKey], cutoff)

	if len(s.user[userKey]) >= s.cfg.MaxRequests {
		return LimitedUser, nil
	}
	if len(s.ip[ipKey]) >= s.cfg.MaxRequests {
		return LimitedIP, nil
	}

	s.user[userKey] = append(s.user[userKey], now)
	s.ip[ipKey] = append(s.ip[ipKey], now)
	return "", nil
}

func (s *memoryStore) ConsumeNonce(_ context.Context, nonce string) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if consumedAt, seen := s.nonces[nonce]; seen && now.Sub(consumedAt) <= s.cfg.NonceWindow {
		return false, nil
	}
	s.nonces[nonce] = now

	// Opportunistic prune keeps the set bounded without a dedicated sweeper;
	// sampling matches how often it is worth paying the full scan.
	if rand.Float64() < 0.01 {
		for n, consumedAt := range s.nonces {
			if now.Sub(consumedAt) > s.cfg.NonceWindow {
				delete(s.nonces, n)
			}
		}
	}
	return true, nil
}

func pruneBefore(timestamps []int64, cutoff int64) []int64 {
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}
