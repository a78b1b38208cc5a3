package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	JanitorInterval = time.Minute
	UnreadResultTTL = 30 * time.Minute
)

// Sweeper discards finished sessions nobody collected.
type Sweeper interface {
	Sweep(now time.Time, ttl time.Duration) int
}

// SessionJanitor periodically sweeps the kiosk session registry.
type SessionJanitor struct {
	sweeper  Sweeper
	interval time.Duration
	ttl      time.Duration
	log      zerolog.Logger
}

// NewSessionJanitor creates a new SessionJanitor.
func NewSessionJanitor(sweeper Sweeper, interval, ttl time.Duration, log zerolog.Logger) *SessionJanitor {
	if interval <= 0 {
		interval = JanitorInterval
	}
	if ttl <= 0 {
		ttl = UnreadResultTTL
	}
	return &SessionJanitor{
		sweeper:  sweeper,
		interval: interval,
		ttl:      ttl,
		log:      log.With().Str("component", "session_janitor").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *SessionJanitor) Start(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.interval).
		Dur("ttl", w.ttl).
		Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case now := <-ticker.C:
			w.sweeper.Sweep(now, w.ttl)
		}
	}
}
