// Package timertest provides a manually driven clock for countdown tests.
package timertest

import (
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-client/internal/timer"
)

const waitTimeout = 2 * time.Second

// Clock hands out tickers that only fire when a test calls Tick.
type Clock struct {
	created chan *Ticker
}

func NewClock() *Clock {
	return &Clock{created: make(chan *Ticker, 16)}
}

func (c *Clock) NewTicker(time.Duration) timer.Ticker {
	t := &Ticker{
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
	c.created <- t
	return t
}

// WaitTicker returns the next ticker created by a started timer.
func (c *Clock) WaitTicker(tb testing.TB) *Ticker {
	tb.Helper()
	select {
	case t := <-c.created:
		return t
	case <-time.After(waitTimeout):
		tb.Fatal("no ticker was created")
		return nil
	}
}

// Ticker is a manual timer.Ticker.
type Ticker struct {
	c       chan time.Time
	once    sync.Once
	stopped chan struct{}
}

func (t *Ticker) C() <-chan time.Time { return t.c }

func (t *Ticker) Stop() {
	t.once.Do(func() { close(t.stopped) })
}

// Stopped is closed once the owning timer stops its ticker.
func (t *Ticker) Stopped() <-chan struct{} {
	return t.stopped
}

// Tick delivers one second to the timer. It reports false if the ticker was
// stopped before the tick could be delivered.
func (t *Ticker) Tick(tb testing.TB) bool {
	tb.Helper()
	select {
	case t.c <- time.Now():
		return true
	case <-t.stopped:
		return false
	case <-time.After(waitTimeout):
		tb.Fatal("tick was not consumed")
		return false
	}
}
