package worker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls int
	ttl   time.Duration
}

func (s *countingSweeper) Sweep(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.ttl = ttl
	return 0
}

func (s *countingSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSessionJanitorSweepsUntilCancelled(t *testing.T) {
	sweeper := &countingSweeper{}
	w := NewSessionJanitor(sweeper, 5*time.Millisecond, time.Hour, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(stopped)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("janitor never swept")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	if sweeper.ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", sweeper.ttl)
	}
}

func TestSessionJanitorDefaults(t *testing.T) {
	w := NewSessionJanitor(&countingSweeper{}, 0, 0, zerolog.New(io.Discard))
	if w.interval != JanitorInterval || w.ttl != UnreadResultTTL {
		t.Errorf("defaults = %v/%v", w.interval, w.ttl)
	}
}
