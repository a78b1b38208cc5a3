package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/monitor"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/timer/timertest"
)

const waitTimeout = 2 * time.Second

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeService struct {
	mu sync.Mutex

	exam      *model.ExamSession
	startErr  error
	answerErr map[string]error
	submitErr error
	result    *model.SubmitResult
	gate      chan struct{}

	startOpts model.StartOptions
	answers   []string
	submits   int
}

func newExam(n, minutes int) *model.ExamSession {
	exam := &model.ExamSession{SessionID: "sess-1", TimeLimitMinutes: minutes}
	for i := 1; i <= n; i++ {
		exam.Questions = append(exam.Questions, model.Question{
			ID:      fmt.Sprintf("q%d", i),
			Text:    fmt.Sprintf("Question %d", i),
			Options: []string{"a", "b", "c", "d"},
		})
	}
	return exam
}

func gradedResult(n, correct int) *model.SubmitResult {
	return &model.SubmitResult{
		Result: model.ExamResult{
			SessionID:        "sess-1",
			Score:            float64(correct) / float64(n) * 100,
			TotalQuestions:   n,
			CorrectAnswers:   correct,
			IncorrectAnswers: n - correct,
		},
		NewBadges: []string{"first_exam"},
	}
}

func (f *fakeService) StartExam(ctx context.Context, opts model.StartOptions) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startOpts = opts
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.exam, nil
}

func (f *fakeService) SubmitAnswer(ctx context.Context, sessionID, questionID string, option int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, fmt.Sprintf("%s=%d", questionID, option))
	return f.answerErr[questionID]
}

func (f *fakeService) SubmitExam(ctx context.Context, sessionID string) (*model.SubmitResult, error) {
	f.mu.Lock()
	f.submits++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, response.ServiceUnavailable("submit exam", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.result, nil
}

func (f *fakeService) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeArchive struct {
	mu      sync.Mutex
	saved   int
	answers model.AnswerMap
}

func (a *fakeArchive) Save(ctx context.Context, rec *model.ArchiveRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved++
	a.answers = rec.Answers
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []monitor.EventType
}

func (p *fakePublisher) Publish(ctx context.Context, ev monitor.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev.Type)
	return nil
}

func (p *fakePublisher) types() []monitor.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]monitor.EventType(nil), p.events...)
}

// ─── Helpers ────────────────────────────────────────────────────────

func quiet() Option {
	return WithLogger(zerolog.New(io.Discard))
}

func waitFor(t *testing.T, s *Session, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	updates, stop := s.Updates()
	defer stop()

	deadline := time.After(waitTimeout)
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				snap = s.Snapshot()
				if cond(snap) {
					return snap
				}
				t.Fatalf("session ended before %s: state=%s err=%v", what, snap.State, snap.Err)
			}
			if cond(snap) {
				return snap
			}
		case <-deadline:
			snap := s.Snapshot()
			t.Fatalf("timed out waiting for %s: state=%s", what, snap.State)
		}
	}
}

func waitState(t *testing.T, s *Session, state model.SessionState) Snapshot {
	t.Helper()
	return waitFor(t, s, string(state), func(snap Snapshot) bool { return snap.State == state })
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("session did not finish: state=%s", s.Snapshot().State)
	}
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestManualSubmitFromLastQuestion(t *testing.T) {
	svc := &fakeService{exam: newExam(5, 10), result: gradedResult(5, 4)}
	clock := timertest.NewClock()
	archive := &fakeArchive{}

	var (
		gotResult *model.SubmitResult
		gotErr    error
		callbacks int
	)
	completed := make(chan struct{})

	s := Start(context.Background(), svc, 5,
		quiet(),
		WithClock(clock),
		WithArchive(archive),
		WithStartOptions(model.StartOptions{Category: "math", Difficulty: model.DifficultyEasy}),
		WithOnComplete(func(res *model.SubmitResult, err error) {
			gotResult, gotErr = res, err
			callbacks++
			close(completed)
		}),
	)

	snap := waitState(t, s, model.SessionStateActive)
	ticker := clock.WaitTicker(t)

	if snap.Remaining != 600 {
		t.Fatalf("Remaining = %d, want 600", snap.Remaining)
	}
	if snap.Index != 0 {
		t.Fatalf("Index = %d, want 0", snap.Index)
	}
	if svc.startOpts.QuestionCount != 5 || svc.startOpts.Category != "math" {
		t.Fatalf("start options = %+v", svc.startOpts)
	}

	for i, q := range snap.Exam.Questions {
		if err := s.SelectAnswer(q.ID, i%4); err != nil {
			t.Fatalf("SelectAnswer(%s) error = %v", q.ID, err)
		}
		if i < len(snap.Exam.Questions)-1 {
			if err := s.GoNext(); err != nil {
				t.Fatalf("GoNext() error = %v", err)
			}
		}
	}

	if got := s.Snapshot(); got.Index != 4 || len(got.Answers) != 5 {
		t.Fatalf("before submit: index=%d answers=%d", got.Index, len(got.Answers))
	}

	if err := s.RequestSubmit(); err != nil {
		t.Fatalf("RequestSubmit() error = %v", err)
	}

	waitDone(t, s)
	<-completed

	res, err := s.Outcome()
	if err != nil {
		t.Fatalf("Outcome() error = %v", err)
	}
	if res.Result.CorrectAnswers != 4 {
		t.Errorf("CorrectAnswers = %d, want 4", res.Result.CorrectAnswers)
	}
	if gotErr != nil || gotResult != res || callbacks != 1 {
		t.Errorf("onComplete got (%v, %v) x%d", gotResult, gotErr, callbacks)
	}

	final := s.Snapshot()
	if final.State != model.SessionStateCompleted || final.Forced {
		t.Errorf("final state = %s forced=%v", final.State, final.Forced)
	}
	if svc.submitCount() != 1 {
		t.Errorf("SubmitExam called %d times, want 1", svc.submitCount())
	}

	select {
	case <-ticker.Stopped():
	case <-time.After(waitTimeout):
		t.Error("timer was not cancelled on submit")
	}

	archive.mu.Lock()
	defer archive.mu.Unlock()
	if archive.saved != 1 || len(archive.answers) != 5 {
		t.Errorf("archive saved=%d answers=%d", archive.saved, len(archive.answers))
	}
}

func TestNavigationStaysInRange(t *testing.T) {
	svc := &fakeService{exam: newExam(4, 5), result: gradedResult(4, 0)}
	s := Start(context.Background(), svc, 4, quiet(), WithClock(timertest.NewClock()))
	defer s.Close()
	waitState(t, s, model.SessionStateActive)

	if err := s.GoPrevious(); err != nil {
		t.Fatal(err)
	}
	if idx := s.Snapshot().Index; idx != 0 {
		t.Fatalf("GoPrevious at 0 moved to %d", idx)
	}

	rng := rand.New(rand.NewSource(7))
	want := 0
	for i := 0; i < 200; i++ {
		if rng.Intn(2) == 0 {
			if err := s.GoNext(); err != nil {
				t.Fatal(err)
			}
			if want < 3 {
				want++
			}
		} else {
			if err := s.GoPrevious(); err != nil {
				t.Fatal(err)
			}
			if want > 0 {
				want--
			}
		}
		if idx := s.Snapshot().Index; idx != want || idx < 0 || idx > 3 {
			t.Fatalf("step %d: index = %d, want %d", i, idx, want)
		}
	}
}

func TestExpiryForcesSubmitWithPartialAnswers(t *testing.T) {
	svc := &fakeService{exam: newExam(3, 1), result: gradedResult(3, 1)}
	clock := timertest.NewClock()
	pub := &fakePublisher{}
	archive := &fakeArchive{}

	s := Start(context.Background(), svc, 3, quiet(), WithClock(clock), WithMonitor(pub), WithArchive(archive))
	waitState(t, s, model.SessionStateActive)
	ticker := clock.WaitTicker(t)

	if err := s.SelectAnswer("q1", 2); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 59; i++ {
		if !ticker.Tick(t) {
			t.Fatalf("ticker stopped after %d ticks", i)
		}
	}
	waitFor(t, s, "one second left", func(snap Snapshot) bool { return snap.Remaining == 1 })

	ticker.Tick(t)
	waitDone(t, s)

	final := s.Snapshot()
	if final.State != model.SessionStateCompleted || !final.Forced {
		t.Fatalf("final state = %s forced=%v", final.State, final.Forced)
	}
	if final.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", final.Remaining)
	}
	if svc.submitCount() != 1 {
		t.Errorf("SubmitExam called %d times, want 1", svc.submitCount())
	}

	archive.mu.Lock()
	if len(archive.answers) != 1 || archive.answers["q1"] != 2 {
		t.Errorf("submitted answers = %v, want only q1=2", archive.answers)
	}
	archive.mu.Unlock()

	want := []monitor.EventType{
		monitor.EventStarted, monitor.EventAnswered, monitor.EventExpired,
		monitor.EventSubmitting, monitor.EventCompleted,
	}
	deadline := time.Now().Add(waitTimeout)
	for len(pub.types()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := pub.types()
	if len(got) != len(want) {
		t.Fatalf("monitor events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("monitor events = %v, want %v", got, want)
		}
	}
}

func TestSubmitRacingExpiryCallsServiceOnce(t *testing.T) {
	for run := 0; run < 20; run++ {
		gate := make(chan struct{})
		svc := &fakeService{exam: newExam(2, 1), result: gradedResult(2, 2), gate: gate}
		clock := timertest.NewClock()

		s := Start(context.Background(), svc, 2, quiet(), WithClock(clock))
		waitState(t, s, model.SessionStateActive)
		ticker := clock.WaitTicker(t)

		for i := 0; i < 59; i++ {
			ticker.Tick(t)
		}

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.RequestSubmit()
			}()
		}
		ticker.Tick(t)
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				t.Fatalf("run %d: RequestSubmit() error = %v", run, err)
			}
		}

		close(gate)
		waitDone(t, s)

		if n := svc.submitCount(); n != 1 {
			t.Fatalf("run %d: SubmitExam called %d times, want 1", run, n)
		}
		if err := s.RequestSubmit(); err != nil {
			t.Fatalf("run %d: RequestSubmit after completion error = %v", run, err)
		}
	}
}

func TestCancelledTimerNeverExpires(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeService{exam: newExam(2, 1), result: gradedResult(2, 1), gate: gate}
	clock := timertest.NewClock()

	s := Start(context.Background(), svc, 2, quiet(), WithClock(clock))
	waitState(t, s, model.SessionStateActive)
	ticker := clock.WaitTicker(t)

	if err := s.RequestSubmit(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ticker.Stopped():
	case <-time.After(waitTimeout):
		t.Fatal("timer still running while submitting")
	}
	if ticker.Tick(t) {
		t.Fatal("stopped timer accepted a tick")
	}

	close(gate)
	waitDone(t, s)
	if s.Snapshot().Forced {
		t.Error("manual submission reported as forced")
	}
}

func TestAnswerSyncFailureKeepsSessionActive(t *testing.T) {
	svc := &fakeService{
		exam:      newExam(5, 10),
		result:    gradedResult(5, 3),
		answerErr: map[string]error{"q3": errors.New("connection reset")},
	}
	s := Start(context.Background(), svc, 5, quiet(), WithClock(timertest.NewClock()))
	defer s.Close()
	waitState(t, s, model.SessionStateActive)

	if err := s.SelectAnswer("q3", 1); err != nil {
		t.Fatalf("SelectAnswer() error = %v", err)
	}

	deadline := time.Now().Add(waitTimeout)
	for {
		svc.mu.Lock()
		n := len(svc.answers)
		svc.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("answer was never synced")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := s.Snapshot()
	if snap.State != model.SessionStateActive {
		t.Fatalf("state = %s, want ACTIVE", snap.State)
	}
	if opt, ok := snap.Answers["q3"]; !ok || opt != 1 {
		t.Errorf("answer for q3 = %d, %v; want 1, true", opt, ok)
	}
}

func TestSelectAnswerLastWriteWins(t *testing.T) {
	svc := &fakeService{exam: newExam(2, 10), result: gradedResult(2, 1)}
	s := Start(context.Background(), svc, 2, quiet(), WithClock(timertest.NewClock()))
	defer s.Close()
	waitState(t, s, model.SessionStateActive)

	if err := s.SelectAnswer("q1", 0); err != nil {
		t.Fatal(err)
	}
	if err := s.SelectAnswer("q1", 3); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().Answers["q1"]; got != 3 {
		t.Errorf("answer for q1 = %d, want 3", got)
	}
}

func TestSelectAnswerRejectsInvalidInput(t *testing.T) {
	svc := &fakeService{exam: newExam(2, 10), result: gradedResult(2, 1)}
	s := Start(context.Background(), svc, 2, quiet(), WithClock(timertest.NewClock()))
	defer s.Close()
	waitState(t, s, model.SessionStateActive)

	tests := []struct {
		name     string
		question string
		option   int
		want     error
	}{
		{"unknown question", "q9", 0, ErrUnknownQuestion},
		{"negative option", "q1", -1, ErrOptionOutOfRange},
		{"option past end", "q1", 4, ErrOptionOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SelectAnswer(tt.question, tt.option)
			if !errors.Is(err, tt.want) || !errors.Is(err, response.ErrInvalidInput) {
				t.Errorf("SelectAnswer() error = %v, want %v", err, tt.want)
			}
		})
	}

	if n := len(s.Snapshot().Answers); n != 0 {
		t.Errorf("rejected selections were recorded: %d answers", n)
	}
}

func TestOperationsAfterSubmitReturnNoActiveSession(t *testing.T) {
	svc := &fakeService{exam: newExam(2, 10), result: gradedResult(2, 1)}
	s := Start(context.Background(), svc, 2, quiet(), WithClock(timertest.NewClock()))
	waitState(t, s, model.SessionStateActive)

	if err := s.RequestSubmit(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	if err := s.SelectAnswer("q1", 0); !errors.Is(err, response.ErrNoActiveSession) {
		t.Errorf("SelectAnswer() error = %v, want NoActiveSession", err)
	}
	if err := s.GoNext(); !errors.Is(err, response.ErrNoActiveSession) {
		t.Errorf("GoNext() error = %v, want NoActiveSession", err)
	}
	if err := s.GoPrevious(); !errors.Is(err, response.ErrNoActiveSession) {
		t.Errorf("GoPrevious() error = %v, want NoActiveSession", err)
	}
}

func TestSelectAnswerWhileSubmitting(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeService{exam: newExam(2, 10), result: gradedResult(2, 1), gate: gate}
	s := Start(context.Background(), svc, 2, quiet(), WithClock(timertest.NewClock()))
	waitState(t, s, model.SessionStateActive)

	if err := s.RequestSubmit(); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().State; got != model.SessionStateSubmitting {
		t.Fatalf("state = %s, want SUBMITTING", got)
	}
	if err := s.SelectAnswer("q1", 1); !errors.Is(err, response.ErrNoActiveSession) {
		t.Errorf("SelectAnswer() error = %v, want NoActiveSession", err)
	}
	if err := s.RequestSubmit(); err != nil {
		t.Errorf("second RequestSubmit() error = %v, want nil", err)
	}

	close(gate)
	waitDone(t, s)
	if svc.submitCount() != 1 {
		t.Errorf("SubmitExam called %d times, want 1", svc.submitCount())
	}
}

func TestLoadFailure(t *testing.T) {
	svc := &fakeService{startErr: response.ServiceUnavailable("start exam", errors.New("dial tcp: refused"))}

	completed := make(chan error, 1)
	s := Start(context.Background(), svc, 5, quiet(), WithOnComplete(func(_ *model.SubmitResult, err error) {
		completed <- err
	}))
	waitDone(t, s)

	res, err := s.Outcome()
	if res != nil || !errors.Is(err, response.ErrServiceUnavailable) {
		t.Fatalf("Outcome() = %v, %v; want nil, ServiceUnavailable", res, err)
	}
	if s.Snapshot().State != model.SessionStateFailed {
		t.Errorf("state = %s, want FAILED", s.Snapshot().State)
	}
	if s.Snapshot().Exam != nil {
		t.Error("failed load must not expose a partial exam")
	}
	if err := s.RequestSubmit(); !errors.Is(err, response.ErrNoActiveSession) {
		t.Errorf("RequestSubmit() error = %v, want NoActiveSession", err)
	}

	select {
	case err := <-completed:
		if !errors.Is(err, response.ErrServiceUnavailable) {
			t.Errorf("onComplete error = %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("onComplete was not called")
	}
}

func TestRequestSubmitWhileLoading(t *testing.T) {
	svc := &blockingStart{release: make(chan struct{})}
	s := Start(context.Background(), svc, 3, quiet(), WithClock(timertest.NewClock()))
	defer func() {
		close(svc.release)
		s.Close()
	}()

	if err := s.RequestSubmit(); !errors.Is(err, response.ErrNoActiveSession) {
		t.Errorf("RequestSubmit() error = %v, want NoActiveSession", err)
	}
	if err := s.GoNext(); !errors.Is(err, response.ErrNoActiveSession) {
		t.Errorf("GoNext() error = %v, want NoActiveSession", err)
	}
	if got := s.Snapshot().State; got != model.SessionStateLoading {
		t.Errorf("state = %s, want LOADING", got)
	}
}

func TestSubmitFailureIsTerminal(t *testing.T) {
	svc := &fakeService{
		exam:      newExam(2, 10),
		submitErr: response.ServiceUnavailable("submit exam", errors.New("502 bad gateway")),
	}
	s := Start(context.Background(), svc, 2, quiet(), WithClock(timertest.NewClock()))
	waitState(t, s, model.SessionStateActive)

	if err := s.RequestSubmit(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	if _, err := s.Outcome(); !errors.Is(err, response.ErrServiceUnavailable) {
		t.Errorf("Outcome() error = %v, want ServiceUnavailable", err)
	}
	if svc.submitCount() != 1 {
		t.Errorf("SubmitExam called %d times, want no retry", svc.submitCount())
	}
}

func TestInconsistentResultFails(t *testing.T) {
	res := gradedResult(3, 1)
	res.Result.IncorrectAnswers = 1
	svc := &fakeService{exam: newExam(3, 10), result: res}
	archive := &fakeArchive{}

	s := Start(context.Background(), svc, 3, quiet(), WithClock(timertest.NewClock()), WithArchive(archive))
	waitState(t, s, model.SessionStateActive)
	if err := s.RequestSubmit(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	_, err := s.Outcome()
	if !errors.Is(err, ErrInconsistentResult) || !errors.Is(err, response.ErrServiceUnavailable) {
		t.Fatalf("Outcome() error = %v, want inconsistent result", err)
	}
	archive.mu.Lock()
	defer archive.mu.Unlock()
	if archive.saved != 0 {
		t.Error("inconsistent result was archived")
	}
}

func TestCloseAbandonsActiveSession(t *testing.T) {
	svc := &fakeService{exam: newExam(2, 10), result: gradedResult(2, 1)}
	clock := timertest.NewClock()
	s := Start(context.Background(), svc, 2, quiet(), WithClock(clock))
	waitState(t, s, model.SessionStateActive)
	ticker := clock.WaitTicker(t)

	s.Close()

	if got := s.Snapshot().State; got != model.SessionStateFailed {
		t.Fatalf("state = %s, want FAILED", got)
	}
	if svc.submitCount() != 0 {
		t.Error("abandoned session was submitted")
	}
	select {
	case <-ticker.Stopped():
	case <-time.After(waitTimeout):
		t.Error("timer kept running after Close")
	}
}

func TestUpdatesClosedAfterTerminalSnapshot(t *testing.T) {
	svc := &fakeService{exam: newExam(1, 10), result: gradedResult(1, 1)}
	s := Start(context.Background(), svc, 1, quiet(), WithClock(timertest.NewClock()))
	updates, stop := s.Updates()
	defer stop()

	waitState(t, s, model.SessionStateActive)
	if err := s.RequestSubmit(); err != nil {
		t.Fatal(err)
	}

	var last Snapshot
	timeout := time.After(waitTimeout)
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				if last.State != model.SessionStateCompleted {
					t.Fatalf("last snapshot state = %s, want COMPLETED", last.State)
				}
				late, _ := s.Updates()
				if snap := <-late; snap.State != model.SessionStateCompleted {
					t.Errorf("late subscriber state = %s", snap.State)
				}
				if _, ok := <-late; ok {
					t.Error("late subscription should be closed")
				}
				return
			}
			last = snap
		case <-timeout:
			t.Fatal("updates channel was not closed")
		}
	}
}

type blockingStart struct {
	fakeService
	release chan struct{}
}

func (b *blockingStart) StartExam(ctx context.Context, opts model.StartOptions) (*model.ExamSession, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil, response.ServiceUnavailable("start exam", errors.New("released"))
}
