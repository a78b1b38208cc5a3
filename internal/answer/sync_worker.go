package answer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Syncer persists one selection remotely.
type Syncer interface {
	SubmitAnswer(ctx context.Context, sessionID, questionID string, option int) error
}

const (
	DefaultQueueSize   = 64
	DefaultCallTimeout = 10 * time.Second
)

type job struct {
	questionID string
	option     int
	// barrier jobs carry no answer; the worker closes done when it reaches them.
	done chan struct{}
}

// SyncWorker pushes selections to the exam service in the order they were made.
// Failures are logged and dropped; the local AnswerMap stays authoritative.
type SyncWorker struct {
	sessionID   string
	syncer      Syncer
	log         zerolog.Logger
	callTimeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan job

	stopped chan struct{}
}

// NewSyncWorker creates a worker with a queue of size entries.
func NewSyncWorker(sessionID string, syncer Syncer, log zerolog.Logger, size int) *SyncWorker {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &SyncWorker{
		sessionID:   sessionID,
		syncer:      syncer,
		log:         log.With().Str("component", "answer_sync").Str("session_id", sessionID).Logger(),
		callTimeout: DefaultCallTimeout,
		queue:       make(chan job, size),
		stopped:     make(chan struct{}),
	}
}

// Start runs the worker loop until Close is called or ctx is done. Call in a goroutine.
func (w *SyncWorker) Start(ctx context.Context) {
	defer close(w.stopped)
	w.log.Debug().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Debug().Msg("Worker stopping...")
			w.close()
			// Drain remaining items before exit.
			w.drain(context.Background())
			return
		case j, ok := <-w.queue:
			if !ok {
				w.log.Debug().Msg("Worker stopped")
				return
			}
			w.process(ctx, j)
		}
	}
}

// Enqueue schedules a selection without blocking. It reports false when the
// queue is full or the worker is closed; the remote copy is then skipped.
func (w *SyncWorker) Enqueue(questionID string, option int) bool {
	return w.offer(job{questionID: questionID, option: option})
}

// Flush waits until every selection enqueued before the call was attempted.
func (w *SyncWorker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !w.offer(job{done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting selections and waits for queued ones to be attempted.
// Only valid after Start was called.
func (w *SyncWorker) Close() {
	w.close()
	<-w.stopped
}

func (w *SyncWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
}

func (w *SyncWorker) offer(j job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	select {
	case w.queue <- j:
		return true
	default:
		w.log.Warn().
			Str("question_id", j.questionID).
			Msg("Answer sync queue full, skipping remote copy")
		return false
	}
}

func (w *SyncWorker) process(ctx context.Context, j job) {
	if j.done != nil {
		close(j.done)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()

	if err := w.syncer.SubmitAnswer(callCtx, w.sessionID, j.questionID, j.option); err != nil {
		w.log.Warn().Err(err).
			Str("question_id", j.questionID).
			Int("option", j.option).
			Msg("Answer sync failed")
		return
	}

	w.log.Debug().
		Str("question_id", j.questionID).
		Int("option", j.option).
		Msg("Answer synced")
}

// drain processes all remaining items in the queue before shutdown.
func (w *SyncWorker) drain(ctx context.Context) {
	drained := 0
	for j := range w.queue {
		w.process(ctx, j)
		if j.done == nil {
			drained++
		}
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining answers")
	}
}
