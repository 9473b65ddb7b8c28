package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/embyguard/emby-guard/internal/metrics"
	"github.com/rs/zerolog"
)

// Sweepable is any cache the janitor can expire entries from.
type Sweepable interface {
	Sweep() int
}

// Janitor periodically sweeps expired entries from the shared caches.
// A panic during a sweep cycle halts only the janitor, never the process:
// the fault is logged at critical level so an operator restarts the service
// before unbounded cache growth becomes a problem.
type Janitor struct {
	caches   map[string]Sweepable
	dbSize   func() (int64, error)
	interval time.Duration
	log      zerolog.Logger
}

// NewJanitor creates a Janitor sweeping the given named caches. dbSize, when
// non-nil, is polled each tick to refresh the on-disk size gauge.
func NewJanitor(caches map[string]Sweepable, dbSize func() (int64, error),
	interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		caches:   caches,
		dbSize:   dbSize,
		interval: interval,
		log:      log,
	}
}

// Run executes the sweep loop until ctx is cancelled or a sweep panics.
func (j *Janitor) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("janitor sweep panicked: %v", r)
			// WithLevel(FatalLevel) logs at fatal severity without exiting;
			// the process must keep serving, only the sweep loop dies.
			j.log.WithLevel(zerolog.FatalLevel).Interface("panic", r).
				Msg("cache janitor crashed and has stopped; restart the service to avoid unbounded cache growth")
		}
	}()

	j.log.Info().Dur("interval", j.interval).Msg("cache janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	for name, c := range j.caches {
		if removed := c.Sweep(); removed > 0 {
			j.log.Info().Str("cache", name).Int("count", removed).Msg("janitor: swept expired entries")
		}
	}
	if j.dbSize != nil {
		if size, err := j.dbSize(); err == nil {
			metrics.DBSizeBytes.Set(float64(size))
		} else {
			j.log.Debug().Err(err).Msg("janitor: db size probe failed")
		}
	}
	j.log.Debug().Msg("janitor: tick complete")
}
