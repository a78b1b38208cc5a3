package answer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/model"
)

// Tracker records the selected option per question. Selections are visible
// locally the moment Select returns; the remote copy is pushed asynchronously.
type Tracker struct {
	mu      sync.RWMutex
	answers model.AnswerMap
	worker  *SyncWorker
}

// NewTracker creates a tracker for one session. Run must be started before
// selections are synced.
func NewTracker(sessionID string, syncer Syncer, log zerolog.Logger, queueSize int) *Tracker {
	return &Tracker{
		answers: make(model.AnswerMap),
		worker:  NewSyncWorker(sessionID, syncer, log, queueSize),
	}
}

// Run starts the background sync. Call in a goroutine.
func (t *Tracker) Run(ctx context.Context) {
	t.worker.Start(ctx)
}

// Select records option for questionID, overwriting a previous choice, then
// schedules the remote copy without blocking.
func (t *Tracker) Select(questionID string, option int) {
	t.mu.Lock()
	t.answers[questionID] = option
	t.mu.Unlock()

	t.worker.Enqueue(questionID, option)
}

// IsAnswered reports whether questionID has a selection.
func (t *Tracker) IsAnswered(questionID string) bool {
	_, ok := t.AnswerFor(questionID)
	return ok
}

// AnswerFor returns the selected option for questionID, if any.
func (t *Tracker) AnswerFor(questionID string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	opt, ok := t.answers[questionID]
	return opt, ok
}

// Count is the number of answered questions.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.answers)
}

// Snapshot returns a copy of the AnswerMap.
func (t *Tracker) Snapshot() model.AnswerMap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.answers.Clone()
}

// Flush waits for pending remote copies, bounded by ctx.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.worker.Flush(ctx)
}

// Close stops syncing once pending remote copies were attempted.
func (t *Tracker) Close() {
	t.worker.Close()
}
