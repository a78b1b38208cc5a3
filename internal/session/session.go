package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/answer"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/monitor"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/timer"
)

const (
	DefaultFlushTimeout   = 3 * time.Second
	DefaultReportTimeout  = 2 * time.Second
	DefaultArchiveTimeout = 5 * time.Second
	reportQueueSize       = 32
)

var (
	ErrUnknownQuestion    = errors.New("question does not belong to the session")
	ErrOptionOutOfRange   = errors.New("option index out of range")
	ErrInconsistentResult = errors.New("result does not account for every question")

	errClosed = errors.New("session loop exited")
)

// Service is the subset of the exam service client a session drives.
type Service interface {
	StartExam(ctx context.Context, opts model.StartOptions) (*model.ExamSession, error)
	SubmitAnswer(ctx context.Context, sessionID, questionID string, option int) error
	SubmitExam(ctx context.Context, sessionID string) (*model.SubmitResult, error)
}

// Publisher receives lifecycle events for live monitoring.
type Publisher interface {
	Publish(ctx context.Context, ev monitor.Event) error
}

// Archive persists completed results.
type Archive interface {
	Save(ctx context.Context, rec *model.ArchiveRecord) error
}

// Snapshot is an immutable view of the session at one point in time.
type Snapshot struct {
	State     model.SessionState
	Exam      *model.ExamSession
	Index     int
	Answers   model.AnswerMap
	Remaining int
	Forced    bool
	Result    *model.SubmitResult
	Err       error
}

// QuestionCount is zero while the exam is loading.
func (s Snapshot) QuestionCount() int {
	if s.Exam == nil {
		return 0
	}
	return len(s.Exam.Questions)
}

// Current returns the question at Index, or nil while loading.
func (s Snapshot) Current() *model.Question {
	if s.Exam == nil || s.Index >= len(s.Exam.Questions) {
		return nil
	}
	return &s.Exam.Questions[s.Index]
}

// Option configures a Session.
type Option func(*Session)

func WithClock(clock timer.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithMonitor(p Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

func WithArchive(a Archive) Option {
	return func(s *Session) { s.archive = a }
}

// WithStartOptions sets the category and difficulty filters. The question
// count passed to Start always wins.
func WithStartOptions(opts model.StartOptions) Option {
	return func(s *Session) { s.startOpts = opts }
}

// WithOnComplete registers fn to receive the result or the terminal error.
// It runs once, after Done is closed.
func WithOnComplete(fn func(*model.SubmitResult, error)) Option {
	return func(s *Session) { s.onComplete = fn }
}

// WithSubject tags monitor events with the user id.
func WithSubject(subject string) Option {
	return func(s *Session) { s.subject = subject }
}

func WithSyncQueueSize(n int) Option {
	return func(s *Session) { s.queueSize = n }
}

// WithFlushTimeout bounds how long submission waits for pending answer syncs.
func WithFlushTimeout(d time.Duration) Option {
	return func(s *Session) { s.flushTimeout = d }
}

// Session drives one exam attempt from loading to a single result.
//
// All session state is owned by one loop goroutine. Public methods are
// serialized onto it, as are timer ticks, expiry and remote completions, so
// a manual submit and expiry can never both reach the exam service.
type Session struct {
	svc          Service
	clock        timer.Clock
	log          zerolog.Logger
	publisher    Publisher
	archive      Archive
	startOpts    model.StartOptions
	onComplete   func(*model.SubmitResult, error)
	subject      string
	queueSize    int
	flushTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	done   chan struct{}
	events chan monitor.Event

	// Loop-owned.
	state     model.SessionState
	exam      *model.ExamSession
	index     int
	tracker   *answer.Tracker
	countdown *timer.Timer
	remaining int
	forced    bool
	result    *model.SubmitResult
	err       error
	ticks     <-chan int
	expired   <-chan struct{}
	submitted chan submitOutcome

	mu     sync.Mutex
	last   Snapshot
	subs   map[int]chan Snapshot
	nextID int
	closed bool
}

type loadOutcome struct {
	exam *model.ExamSession
	err  error
}

type submitOutcome struct {
	res *model.SubmitResult
	err error
}

// Start begins a session with questionCount questions. The exam is fetched in
// the background; the session is Loading until it arrives.
func Start(ctx context.Context, svc Service, questionCount int, opts ...Option) *Session {
	s := &Session{
		svc:          svc,
		clock:        timer.SystemClock{},
		log:          zerolog.Nop(),
		queueSize:    answer.DefaultQueueSize,
		flushTimeout: DefaultFlushTimeout,
		cmds:         make(chan func()),
		done:         make(chan struct{}),
		subs:         make(map[int]chan Snapshot),
		state:        model.SessionStateLoading,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startOpts.QuestionCount = questionCount
	s.log = s.log.With().Str("component", "exam_session").Logger()
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.publisher != nil {
		s.events = make(chan monitor.Event, reportQueueSize)
		go s.report(s.log)
	}

	s.last = s.snapshot()
	go s.run()
	return s
}

// ─── Caller operations ──────────────────────────────────────────────

// GoNext moves to the next question; a no-op on the last one.
func (s *Session) GoNext() error {
	return s.navigate("go next", 1)
}

// GoPrevious moves to the previous question; a no-op on the first one.
func (s *Session) GoPrevious() error {
	return s.navigate("go previous", -1)
}

func (s *Session) navigate(op string, delta int) error {
	err := s.call(func() error {
		if s.state != model.SessionStateActive {
			return response.NoActiveSession(op)
		}
		next := s.index + delta
		if next < 0 || next >= len(s.exam.Questions) {
			return nil
		}
		s.index = next
		s.publish()
		return nil
	})
	if errors.Is(err, errClosed) {
		return response.NoActiveSession(op)
	}
	return err
}

// SelectAnswer records option for questionID. The selection is visible in the
// next Snapshot; the remote copy is synced in the background.
func (s *Session) SelectAnswer(questionID string, option int) error {
	const op = "select answer"

	err := s.call(func() error {
		if s.state != model.SessionStateActive {
			return response.NoActiveSession(op)
		}
		q, ok := s.exam.QuestionByID(questionID)
		if !ok {
			return response.Invalid(op, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID))
		}
		if option < 0 || option >= len(q.Options) {
			return response.Invalid(op, fmt.Errorf("%w: %d of %d", ErrOptionOutOfRange, option, len(q.Options)))
		}

		s.tracker.Select(questionID, option)
		s.publish()

		opt := option
		s.emit(monitor.Event{Type: monitor.EventAnswered, QuestionID: questionID, Option: &opt})
		return nil
	})
	if errors.Is(err, errClosed) {
		return response.NoActiveSession(op)
	}
	return err
}

// RequestSubmit submits the exam. Only the first call while Active reaches the
// exam service; later calls, and calls racing with expiry, are no-ops.
func (s *Session) RequestSubmit() error {
	const op = "request submit"

	err := s.call(func() error {
		switch s.state {
		case model.SessionStateActive:
			s.beginSubmit(false)
			return nil
		case model.SessionStateSubmitting, model.SessionStateCompleted:
			return nil
		default:
			return response.NoActiveSession(op)
		}
	})
	if errors.Is(err, errClosed) {
		if s.Snapshot().State == model.SessionStateCompleted {
			return nil
		}
		return response.NoActiveSession(op)
	}
	return err
}

// Close abandons the session. A session that has not completed fails with
// ServiceUnavailable. Close waits for the loop to exit.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// ─── Observation ────────────────────────────────────────────────────

// Snapshot returns the latest published view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Updates subscribes to snapshots. The channel holds only the most recent
// unread snapshot and is closed after the terminal one. Call the returned
// function to unsubscribe.
func (s *Session) Updates() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	ch <- s.last
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Done is closed once the session reached Completed or Failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the result or terminal error. Both are nil until Done is closed.
func (s *Session) Outcome() (*model.SubmitResult, error) {
	snap := s.Snapshot()
	if !snap.State.Terminal() {
		return nil, nil
	}
	return snap.Result, snap.Err
}

// Wait blocks until the session is terminal or ctx is done.
func (s *Session) Wait(ctx context.Context) (*model.SubmitResult, error) {
	select {
	case <-s.done:
		return s.Outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ─── Loop ───────────────────────────────────────────────────────────

func (s *Session) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- func() { reply <- fn() }:
		return <-reply
	case <-s.done:
		return errClosed
	}
}

func (s *Session) run() {
	loaded := make(chan loadOutcome, 1)
	go func() {
		exam, err := s.svc.StartExam(s.ctx, s.startOpts)
		loaded <- loadOutcome{exam: exam, err: err}
	}()

	s.log.Info().
		Int("question_count", s.startOpts.QuestionCount).
		Str("category", s.startOpts.Category).
		Str("difficulty", string(s.startOpts.Difficulty)).
		Msg("Starting exam")

	for !s.state.Terminal() {
		select {
		case fn := <-s.cmds:
			fn()
		case r := <-loaded:
			s.onLoaded(r)
		case v := <-s.ticks:
			s.onTick(v)
		case <-s.expired:
			s.onExpired()
		case r := <-s.submitted:
			s.onSubmitted(r)
		case <-s.ctx.Done():
			s.fail(response.ServiceUnavailable("exam session", s.ctx.Err()))
		}
	}

	s.finish()
	close(s.done)

	if s.onComplete != nil {
		s.onComplete(s.result, s.err)
	}
}

func (s *Session) onLoaded(r loadOutcome) {
	if r.err != nil {
		s.fail(r.err)
		return
	}
	if r.exam == nil || len(r.exam.Questions) == 0 {
		s.fail(response.ServiceUnavailable("start exam", errors.New("exam has no questions")))
		return
	}

	s.exam = r.exam
	s.log = s.log.With().Str("session_id", s.exam.SessionID).Logger()

	seconds := s.exam.TimeLimitSeconds()
	s.countdown = timer.New(s.clock)
	if err := s.countdown.Start(s.ctx, seconds); err != nil {
		s.fail(response.ServiceUnavailable("start exam", err))
		return
	}

	s.tracker = answer.NewTracker(s.exam.SessionID, s.svc, s.log, s.queueSize)
	go s.tracker.Run(s.ctx)

	s.ticks = s.countdown.Ticks()
	s.expired = s.countdown.Expired()
	s.remaining = seconds
	s.index = 0
	s.state = model.SessionStateActive
	s.publish()
	s.emit(monitor.Event{Type: monitor.EventStarted})

	s.log.Info().
		Int("questions", len(s.exam.Questions)).
		Int("time_limit_seconds", seconds).
		Msg("Exam started")
}

func (s *Session) onTick(remaining int) {
	if s.state != model.SessionStateActive {
		return
	}
	s.remaining = remaining
	s.publish()
}

func (s *Session) onExpired() {
	s.remaining = 0
	if s.state != model.SessionStateActive {
		return
	}
	s.log.Info().Int("answered", s.tracker.Count()).Msg("Time limit reached, submitting")
	s.emit(monitor.Event{Type: monitor.EventExpired})
	s.beginSubmit(true)
}

// beginSubmit must only be called while Active.
func (s *Session) beginSubmit(forced bool) {
	s.countdown.Cancel()
	s.ticks = nil
	s.expired = nil

	s.state = model.SessionStateSubmitting
	s.forced = forced
	s.publish()
	s.emit(monitor.Event{Type: monitor.EventSubmitting})

	exam := s.exam
	tracker := s.tracker
	answers := tracker.Snapshot()
	submitted := make(chan submitOutcome, 1)
	s.submitted = submitted

	s.log.Info().
		Bool("forced", forced).
		Int("answered", len(answers)).
		Int("remaining", s.remaining).
		Msg("Submitting exam")

	go func() {
		flushCtx, cancel := context.WithTimeout(s.ctx, s.flushTimeout)
		if err := tracker.Flush(flushCtx); err != nil {
			s.log.Warn().Err(err).Msg("Pending answers not synced before submit")
		}
		cancel()

		res, err := s.svc.SubmitExam(s.ctx, exam.SessionID)
		if err == nil && !res.Result.Consistent(len(exam.Questions)) {
			err = response.ServiceUnavailable("submit exam", fmt.Errorf("%w: %d correct, %d incorrect, %d questions",
				ErrInconsistentResult, res.Result.CorrectAnswers, res.Result.IncorrectAnswers, len(exam.Questions)))
			res = nil
		}
		if err == nil && s.archive != nil {
			archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), DefaultArchiveTimeout)
			rec := &model.ArchiveRecord{
				Subject:     s.subject,
				Exam:        exam,
				Answers:     answers,
				Result:      res,
				CompletedAt: time.Now().UTC(),
			}
			if aerr := s.archive.Save(archiveCtx, rec); aerr != nil {
				s.log.Warn().Err(aerr).Msg("Failed to archive result")
			}
			cancel()
		}
		submitted <- submitOutcome{res: res, err: err}
	}()
}

func (s *Session) onSubmitted(r submitOutcome) {
	s.submitted = nil
	if r.err != nil {
		s.fail(r.err)
		return
	}

	s.result = r.res
	s.state = model.SessionStateCompleted
	s.publish()

	score := r.res.Result.Score
	s.emit(monitor.Event{Type: monitor.EventCompleted, Score: &score})

	s.log.Info().
		Float64("score", score).
		Int("correct", r.res.Result.CorrectAnswers).
		Int("incorrect", r.res.Result.IncorrectAnswers).
		Strs("new_badges", r.res.NewBadges).
		Msg("Exam completed")
}

func (s *Session) fail(err error) {
	var appErr *response.Error
	if !errors.As(err, &appErr) {
		err = response.ServiceUnavailable("exam session", err)
	}
	if s.countdown != nil {
		s.countdown.Cancel()
	}

	from := s.state
	s.err = err
	s.state = model.SessionStateFailed
	s.publish()
	s.emit(monitor.Event{Type: monitor.EventFailed, Error: err.Error()})

	s.log.Error().Err(err).Str("from", string(from)).Msg("Exam session failed")
}

// finish releases the loop's resources and closes every subscription.
func (s *Session) finish() {
	s.cancel()
	if s.tracker != nil {
		go s.tracker.Close()
	}
	if s.events != nil {
		close(s.events)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// ─── Publishing ─────────────────────────────────────────────────────

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		State:     s.state,
		Exam:      s.exam,
		Index:     s.index,
		Remaining: s.remaining,
		Forced:    s.forced,
		Result:    s.result,
		Err:       s.err,
	}
	if s.tracker != nil {
		snap.Answers = s.tracker.Snapshot()
	} else {
		snap.Answers = model.AnswerMap{}
	}
	return snap
}

func (s *Session) publish() {
	snap := s.snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = snap
	for _, ch := range s.subs {
		// Keep only the latest snapshot for slow readers.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Session) emit(ev monitor.Event) {
	if s.events == nil {
		return
	}
	ev.Subject = s.subject
	ev.Remaining = s.remaining
	ev.At = time.Now().UTC()
	if s.exam != nil {
		ev.SessionID = s.exam.SessionID
	}
	if s.tracker != nil {
		ev.Answered = s.tracker.Count()
	}

	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("type", string(ev.Type)).Msg("Monitor queue full, dropping event")
	}
}

// report forwards monitor events in order until the session finishes.
func (s *Session) report(log zerolog.Logger) {
	for ev := range s.events {
		if ev.SessionID == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), DefaultReportTimeout)
		if err := s.publisher.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).
				Str("session_id", ev.SessionID).
				Str("type", string(ev.Type)).
				Msg("Failed to publish monitor event")
		}
		cancel()
	}
}
