package limiter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/embyguard/emby-guard/internal/metrics"
	"github.com/rs/zerolog"
)

// degradingStore fronts a shared backend with a process-local fallback.
// Any error from the shared backend permanently (for the process lifetime)
// switches all traffic to the fallback; the switch is logged once and the
// failed operation is retried on the fallback immediately so the request
// that hit the error is still answered.
type degradingStore struct {
	shared   Store
	fallback Store

	fellBack atomic.Bool
	logOnce  sync.Once
	log      zerolog.Logger
}

// NewDegrading wraps shared with a degrade-to-fallback policy.
func NewDegrading(shared, fallback Store, log zerolog.Logger) Store {
	return &degradingStore{shared: shared, fallback: fallback, log: log}
}

func (s *degradingStore) Allow(ctx context.Context, userKey, ipKey string) (string, error) {
	if !s.fellBack.Load() {
		limited, err := s.shared.Allow(ctx, userKey, ipKey)
		if err == nil {
			return limited, nil
		}
		s.degrade(err)
	}
	return s.fallback.Allow(ctx, userKey, ipKey)
}

func (s *degradingStore) ConsumeNonce(ctx context.Context, nonce string) (bool, error) {
	if !s.fellBack.Load() {
		ok, err := s.shared.ConsumeNonce(ctx, nonce)
		if err == nil {
			return ok, nil
		}
		s.degrade(err)
	}
	return s.fallback.ConsumeNonce(ctx, nonce)
}

func (s *degradingStore) degrade(err error) {
	s.fellBack.Store(true)
	s.logOnce.Do(func() {
		metrics.LimiterFallbacks.Inc()
		s.log.Warn().Err(err).
			Msg("shared limiter backend failed; falling back to in-process store for the rest of the process lifetime")
	})
}
