package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/model"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"n", command{kind: cmdNext}},
		{" NEXT ", command{kind: cmdNext}},
		{"prev", command{kind: cmdPrevious}},
		{"s", command{kind: cmdSubmit}},
		{"q", command{kind: cmdQuit}},
		{"?", command{kind: cmdHelp}},
		{"a", command{kind: cmdSelect, option: 0}},
		{"D", command{kind: cmdSelect, option: 3}},
		{"e", command{kind: cmdUnknown}},
		{"2", command{kind: cmdSelect, option: 1}},
		{"0", command{kind: cmdUnknown}},
		{"5", command{kind: cmdUnknown}},
		{"", command{kind: cmdUnknown}},
		{"answer b", command{kind: cmdUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := parseCommand(tt.line, 4); got != tt.want {
				t.Errorf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

type scriptedService struct {
	mu      sync.Mutex
	answers map[string]int
}

func (s *scriptedService) StartExam(ctx context.Context, opts model.StartOptions) (*model.ExamSession, error) {
	return &model.ExamSession{
		SessionID:        "sess-1",
		TimeLimitMinutes: 10,
		Questions: []model.Question{
			{ID: "q1", Text: "First?", Options: []string{"x", "y"}},
			{ID: "q2", Text: "Second?", Options: []string{"x", "y", "z"}},
		},
	}, nil
}

func (s *scriptedService) SubmitAnswer(ctx context.Context, sessionID, questionID string, option int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[questionID] = option
	return nil
}

func (s *scriptedService) SubmitExam(ctx context.Context, sessionID string) (*model.SubmitResult, error) {
	return &model.SubmitResult{
		Result: model.ExamResult{
			SessionID:        sessionID,
			Score:            50,
			TotalQuestions:   2,
			CorrectAnswers:   1,
			IncorrectAnswers: 1,
			DetailedResults: []model.QuestionOutcome{
				{QuestionID: "q1", QuestionText: "First?", Options: []string{"x", "y"}, CorrectAnswer: 1, IsCorrect: true},
				{QuestionID: "q2", QuestionText: "Second?", Options: []string{"x", "y", "z"}, CorrectAnswer: 0},
			},
		},
		NewBadges: []string{"first_exam"},
	}, nil
}

// gatedReader hands out one line per read once the previous one was consumed
// by the session, so commands are not applied before the exam has loaded.
type gatedReader struct {
	lines []string
	out   *syncBuffer
	wait  []string
}

func (r *gatedReader) Read(p []byte) (int, error) {
	if len(r.lines) == 0 {
		return 0, io.EOF
	}
	r.out.waitFor(r.wait[0])
	line := r.lines[0] + "\n"
	r.lines, r.wait = r.lines[1:], r.wait[1:]
	return copy(p, line), nil
}

type syncBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  bytes.Buffer
}

func newSyncBuffer() *syncBuffer {
	b := &syncBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	b.cond.Broadcast()
	return n, err
}

func (b *syncBuffer) waitFor(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for !strings.Contains(b.buf.String(), s) {
		b.cond.Wait()
	}
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTerminalRunsExamToResult(t *testing.T) {
	svc := &scriptedService{answers: map[string]int{}}
	out := newSyncBuffer()
	in := &gatedReader{
		out:   out,
		lines: []string{"b", "n", "s"},
		wait:  []string{"Question 1/2", " *B) y", "Question 2/2"},
	}

	term := newTerminal(in, out, zerolog.Nop())
	if err := term.Run(context.Background(), svc, model.StartOptions{QuestionCount: 2}, 8); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Question 1/2",
		"answered 0/2",
		"Question 2/2",
		"[s]ubmit",
		"Score: 50.0%",
		"New badges: first_exam",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.answers["q1"] != 1 {
		t.Errorf("remote answer for q1 = %v, want 1", svc.answers["q1"])
	}
}

func TestTerminalSubmitOnlyFromLastQuestion(t *testing.T) {
	svc := &scriptedService{answers: map[string]int{}}
	out := newSyncBuffer()
	in := &gatedReader{
		out:   out,
		lines: []string{"s", "q"},
		wait:  []string{"Question 1/2", "last question"},
	}

	term := newTerminal(in, out, zerolog.Nop())
	if err := term.Run(context.Background(), svc, model.StartOptions{QuestionCount: 2}, 8); err == nil {
		t.Fatal("Run() error = nil after quitting, want abandoned session error")
	}
	if !strings.Contains(out.String(), "Leaving without submitting.") {
		t.Errorf("output = %q", out.String())
	}
}
