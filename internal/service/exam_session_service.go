package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/auth"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/session"
)

var (
	ErrSessionNotFound = errors.New("kiosk session not found")
	ErrArchiveDisabled = errors.New("result archive is not configured")
	ErrUnknownCaller   = errors.New("caller has no verified identity")
)

// ExamAPI is the remote exam service as seen by one authenticated user.
type ExamAPI interface {
	session.Service
	History(ctx context.Context) ([]model.HistoryEntry, error)
	Me(ctx context.Context) (*model.Profile, error)
}

// ClientFactory builds an ExamAPI bound to a session context.
type ClientFactory func(sc *auth.SessionContext) ExamAPI

// ResultStore is the optional local archive of completed results.
type ResultStore interface {
	session.Archive
	Get(ctx context.Context, sessionID string) (*model.ArchivedResult, error)
	ListRecent(ctx context.Context, subject string, limit int) ([]model.ArchivedResult, error)
}

// Entry is one exam session hosted by the kiosk. Subject is the user id the
// exam service vouched for; only the token that started the session reaches it.
type Entry struct {
	Handle    string
	Subject   string
	Session   *session.Session
	CreatedAt time.Time

	owner      string
	finishedAt time.Time
}

// ExamSessionService hosts the exam sessions driven through the kiosk API.
type ExamSessionService struct {
	newClient ClientFactory
	opts      []session.Option
	store     ResultStore
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewExamSessionService creates a new ExamSessionService. store may be nil.
// opts are applied to every session it starts.
func NewExamSessionService(
	newClient ClientFactory,
	store ResultStore,
	log zerolog.Logger,
	opts ...session.Option,
) *ExamSessionService {
	ctx, cancel := context.WithCancel(context.Background())

	if store != nil {
		opts = append(opts, session.WithArchive(store))
	}

	return &ExamSessionService{
		newClient: newClient,
		opts:      opts,
		store:     store,
		log:       log.With().Str("component", "session_service").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*Entry),
	}
}

// Identify asks the exam service who owns sc. Token claims are never trusted
// for this.
func (s *ExamSessionService) Identify(ctx context.Context, sc *auth.SessionContext) (string, error) {
	profile, err := s.newClient(sc).Me(ctx)
	if err != nil {
		return "", err
	}
	if profile.ID == "" {
		return "", ErrUnknownCaller
	}
	return profile.ID, nil
}

// Start begins a new exam for the owner of sc and registers it under a fresh handle.
func (s *ExamSessionService) Start(ctx context.Context, sc *auth.SessionContext, req model.StartSessionRequest) (*Entry, error) {
	subject, err := s.Identify(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("identify caller: %w", err)
	}

	entry := &Entry{
		Handle:    uuid.NewString(),
		Subject:   subject,
		CreatedAt: time.Now(),
		owner:     sc.Fingerprint(),
	}

	opts := append([]session.Option{}, s.opts...)
	opts = append(opts,
		session.WithSubject(entry.Subject),
		session.WithStartOptions(model.StartOptions{
			Category:   req.Category,
			Difficulty: model.Difficulty(req.Difficulty),
		}),
	)

	entry.Session = session.Start(s.ctx, s.newClient(sc), req.QuestionCount, opts...)

	s.mu.Lock()
	s.entries[entry.Handle] = entry
	s.mu.Unlock()

	s.log.Info().
		Str("handle", entry.Handle).
		Str("subject", entry.Subject).
		Int("question_count", req.QuestionCount).
		Msg("Kiosk session started")

	return entry, nil
}

// Get returns the caller's session. Sessions of other users are reported as
// not found.
func (s *ExamSessionService) Get(handle string, sc *auth.SessionContext) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[handle]
	if !ok || entry.owner != sc.Fingerprint() {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// TakeOutcome returns the terminal outcome of a finished session and discards
// it. done is false while the session is still running.
func (s *ExamSessionService) TakeOutcome(entry *Entry) (res *model.SubmitResult, done bool, err error) {
	select {
	case <-entry.Session.Done():
	default:
		return nil, false, nil
	}

	res, err = entry.Session.Outcome()
	s.discard(entry.Handle)
	return res, true, err
}

// History lists the caller's completed sessions as recorded by the exam service.
func (s *ExamSessionService) History(ctx context.Context, sc *auth.SessionContext) ([]model.HistoryEntry, error) {
	return s.newClient(sc).History(ctx)
}

// ArchivedResults lists the caller's locally archived results.
func (s *ExamSessionService) ArchivedResults(ctx context.Context, sc *auth.SessionContext, limit int) ([]model.ArchivedResult, error) {
	if s.store == nil {
		return nil, ErrArchiveDisabled
	}
	subject, err := s.Identify(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("identify caller: %w", err)
	}
	return s.store.ListRecent(ctx, subject, limit)
}

// ArchivedResult returns one archived result owned by the caller.
func (s *ExamSessionService) ArchivedResult(ctx context.Context, sc *auth.SessionContext, sessionID string) (*model.ArchivedResult, error) {
	if s.store == nil {
		return nil, ErrArchiveDisabled
	}
	subject, err := s.Identify(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("identify caller: %w", err)
	}
	res, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if res.Subject != subject {
		return nil, ErrSessionNotFound
	}
	return res, nil
}

// Handles lists the handles of hosted sessions, oldest first.
func (s *ExamSessionService) Handles() []string {
	s.mu.RLock()
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	handles := make([]string, len(entries))
	for i, e := range entries {
		handles[i] = e.Handle
	}
	return handles
}

// Sweep discards sessions whose result was not read within ttl of the sweep
// that first saw them finished. It returns the number discarded.
func (s *ExamSessionService) Sweep(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for handle, e := range s.entries {
		if e.finishedAt.IsZero() {
			select {
			case <-e.Session.Done():
				e.finishedAt = now
			default:
			}
			continue
		}
		if now.Sub(e.finishedAt) > ttl {
			delete(s.entries, handle)
			swept++
		}
	}
	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("Discarded unread sessions")
	}
	return swept
}

// Shutdown abandons every running session and waits for them to finish.
func (s *ExamSessionService) Shutdown() {
	s.cancel()

	s.mu.RLock()
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		<-e.Session.Done()
	}
	s.log.Info().Int("count", len(entries)).Msg("Kiosk sessions closed")
}

func (s *ExamSessionService) discard(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, handle)
}
