package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type panicCache struct{}

func (panicCache) Sweep() int { panic("corrupted state") }

type countingCache struct{ sweeps int }

func (c *countingCache) Sweep() int { c.sweeps++; return 0 }

func TestJanitorSweepsPeriodically(t *testing.T) {
	c := &countingCache{}
	j := NewJanitor(map[string]Sweepable{"counting": c}, nil, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := j.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.sweeps == 0 {
		t.Error("janitor never swept")
	}
}

func TestJanitorPollsDBSize(t *testing.T) {
	polled := make(chan struct{}, 1)
	j := NewJanitor(nil, func() (int64, error) {
		select {
		case polled <- struct{}{}:
		default:
		}
		return 4096, nil
	}, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = j.Run(ctx) }()

	select {
	case <-polled:
	case <-ctx.Done():
		t.Fatal("db size probe never polled")
	}
}

func TestJanitorHaltsOnPanicWithoutCrashing(t *testing.T) {
	j := NewJanitor(map[string]Sweepable{"bad": panicCache{}}, nil, time.Millisecond, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- j.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error after a sweep panic")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not halt after sweep panic")
	}
}

func TestJanitorStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	j := NewJanitor(nil, nil, time.Hour, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop on context cancel")
	}
}
