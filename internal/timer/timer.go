// Package timer runs the exam countdown.
//
// Ticks is a latest-value channel: a reader that falls behind sees only the
// most recent remaining-seconds value and misses the ones in between. Consumers
// must read the value carried by a tick (or call Remaining) and must not count
// ticks to measure elapsed time. Expiry is signalled on Expired, never as a tick.
package timer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a countdown. Expired and Stopped are terminal.
type State int

const (
	Idle State = iota
	Running
	Expired
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Expired:
		return "expired"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyStarted  = errors.New("timer already started")
	ErrInvalidDuration = errors.New("timer duration must be positive")
)

// Timer is a one-second-resolution countdown bound to a time budget. It is the
// authority for the expiry event: Expired is closed exactly once when the budget
// reaches zero, and never after Cancel. A Timer cannot be restarted.
type Timer struct {
	clock Clock

	mu        sync.Mutex
	state     State
	remaining int

	ticks   chan int
	expired chan struct{}
	stop    chan struct{}
}

// New creates an idle timer. A nil clock means wall-clock time.
func New(clock Clock) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Timer{
		clock:   clock,
		ticks:   make(chan int, 1),
		expired: make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// Start moves Idle to Running and begins decrementing once per second.
// Cancelling ctx stops the countdown like Cancel does.
func (t *Timer) Start(ctx context.Context, seconds int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Idle {
		return ErrAlreadyStarted
	}
	if seconds <= 0 {
		return ErrInvalidDuration
	}

	t.state = Running
	t.remaining = seconds

	go t.run(ctx, t.clock.NewTicker(time.Second))
	return nil
}

// Cancel moves Running to Stopped without signalling expiry. It reports whether
// the timer was running.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running {
		return false
	}
	t.state = Stopped
	close(t.stop)
	return true
}

// Ticks delivers the remaining seconds after each decrement that did not reach
// zero. The channel holds one value; a newer value replaces an unread one, so
// the number of ticks received says nothing about elapsed time.
func (t *Timer) Ticks() <-chan int {
	return t.ticks
}

// Expired is closed when the countdown reaches zero.
func (t *Timer) Expired() <-chan struct{} {
	return t.expired
}

// Remaining returns the seconds left in the budget.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// State returns the current state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Timer) run(ctx context.Context, ticker Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			t.Cancel()
			return
		case <-ticker.C():
			if !t.tick() {
				return
			}
		}
	}
}

// tick applies one decrement and reports whether the countdown keeps running.
func (t *Timer) tick() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running {
		return false
	}

	t.remaining--
	if t.remaining <= 0 {
		t.remaining = 0
		t.state = Expired
		close(t.expired)
		return false
	}

	t.publish(t.remaining)
	return true
}

// publish replaces any unread tick with v. Called with mu held; this goroutine
// is the only sender, so the second send cannot block.
func (t *Timer) publish(v int) {
	select {
	case t.ticks <- v:
	default:
		select {
		case <-t.ticks:
		default:
		}
		t.ticks <- v
	}
}
