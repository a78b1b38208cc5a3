package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/progress"
	"github.com/stemsi/exstem-client/internal/session"
)

// warnAt are the remaining-time marks announced between renders.
var warnAt = map[int]bool{300: true, 60: true, 30: true, 10: true}

type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdNext
	cmdPrevious
	cmdSelect
	cmdSubmit
	cmdQuit
	cmdHelp
)

type command struct {
	kind   commandKind
	option int
}

// parseCommand reads one input line. Options are chosen by letter (a, b, ...)
// or by 1-based number.
func parseCommand(line string, optionCount int) command {
	line = strings.ToLower(strings.TrimSpace(line))
	switch line {
	case "n", "next":
		return command{kind: cmdNext}
	case "p", "prev", "previous":
		return command{kind: cmdPrevious}
	case "s", "submit":
		return command{kind: cmdSubmit}
	case "q", "quit", "exit":
		return command{kind: cmdQuit}
	case "?", "h", "help":
		return command{kind: cmdHelp}
	}

	if len(line) == 1 && line[0] >= 'a' && line[0] <= 'z' {
		if opt := int(line[0] - 'a'); opt < optionCount {
			return command{kind: cmdSelect, option: opt}
		}
		return command{kind: cmdUnknown}
	}
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= optionCount {
		return command{kind: cmdSelect, option: n - 1}
	}
	return command{kind: cmdUnknown}
}

// terminal drives one exam session from a line-oriented console.
type terminal struct {
	in  io.Reader
	out io.Writer
	log zerolog.Logger
}

func newTerminal(in io.Reader, out io.Writer, log zerolog.Logger) *terminal {
	return &terminal{in: in, out: out, log: log}
}

// Run starts an exam and returns once it is graded, failed or abandoned.
func (t *terminal) Run(ctx context.Context, svc session.Service, opts model.StartOptions, syncQueue int) error {
	s := session.Start(ctx, svc, opts.QuestionCount,
		session.WithLogger(t.log),
		session.WithStartOptions(opts),
		session.WithSyncQueueSize(syncQueue),
	)
	defer s.Close()

	fmt.Fprintln(t.out, "Loading exam...")

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(t.in)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	updates, unsubscribe := s.Updates()
	defer unsubscribe()

	var (
		last          *session.Snapshot
		announcedTime bool
	)

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out, "\nInterrupted. Your answers were not submitted.")
			s.Close()
			break loop

		case snap, ok := <-updates:
			if !ok {
				break loop
			}
			switch {
			case snap.State == model.SessionStateSubmitting:
				if snap.Forced && !announcedTime {
					fmt.Fprintln(t.out, "\nTime is up. Submitting your answers...")
					announcedTime = true
				} else if !snap.Forced && (last == nil || last.State != snap.State) {
					fmt.Fprintln(t.out, "Submitting your answers...")
				}
			case snap.State == model.SessionStateActive:
				if last == nil || screenChanged(*last, snap) {
					t.render(snap)
				} else if warnAt[snap.Remaining] {
					fmt.Fprintf(t.out, "  %s left\n", progress.FormatRemaining(snap.Remaining))
				}
			}
			last = &snap

		case line, ok := <-lines:
			if !ok {
				// Input closed; let the timer run the session out.
				lines = nil
				continue
			}
			if quit := t.handle(s, line); quit {
				fmt.Fprintln(t.out, "Leaving without submitting.")
				s.Close()
				break loop
			}
		}
	}

	<-s.Done()
	res, err := s.Outcome()
	if err != nil {
		fmt.Fprintf(t.out, "\nThe exam could not be completed: %v\n", err)
		return err
	}
	t.renderResult(s.Snapshot(), res)
	return nil
}

// handle applies one input line. It reports whether the user asked to quit.
func (t *terminal) handle(s *session.Session, line string) bool {
	snap := s.Snapshot()
	q := snap.Current()
	optionCount := 0
	if q != nil {
		optionCount = len(q.Options)
	}

	var err error
	switch cmd := parseCommand(line, optionCount); cmd.kind {
	case cmdNext:
		err = s.GoNext()
	case cmdPrevious:
		err = s.GoPrevious()
	case cmdSelect:
		err = s.SelectAnswer(q.ID, cmd.option)
	case cmdSubmit:
		if snap.State == model.SessionStateActive && !progress.FromSnapshot(snap).CanSubmit {
			fmt.Fprintln(t.out, "Submit is available from the last question.")
			return false
		}
		err = s.RequestSubmit()
	case cmdQuit:
		return true
	case cmdHelp:
		t.help()
	default:
		fmt.Fprintln(t.out, "Unknown command. Type ? for help.")
	}

	if err != nil {
		fmt.Fprintf(t.out, "  %v\n", err)
	}
	return false
}

func (t *terminal) render(snap session.Snapshot) {
	view := progress.FromSnapshot(snap)
	qv := progress.CurrentQuestion(snap)
	if qv == nil {
		return
	}

	fmt.Fprintf(t.out, "\nQuestion %d/%d  [%3.0f%%]  answered %d/%d  time %s\n",
		qv.Number, view.Count, view.Percent, view.AnsweredCount, view.Count, view.RemainingText)
	fmt.Fprintln(t.out, qv.Text)
	for i, opt := range qv.Options {
		mark := " "
		if qv.Selected != nil && *qv.Selected == i {
			mark = "*"
		}
		fmt.Fprintf(t.out, " %s%c) %s\n", mark, 'A'+i, opt)
	}

	actions := []string{"[a-" + string(rune('a'+len(qv.Options)-1)) + "] answer"}
	if view.CanPrevious {
		actions = append(actions, "[p]rev")
	}
	if view.CanNext {
		actions = append(actions, "[n]ext")
	}
	if view.CanSubmit {
		actions = append(actions, "[s]ubmit")
	}
	actions = append(actions, "[q]uit")
	fmt.Fprintln(t.out, strings.Join(actions, "  "))
}

func (t *terminal) renderResult(snap session.Snapshot, res *model.SubmitResult) {
	r := res.Result
	fmt.Fprintln(t.out, "\n─── Result ───")
	if snap.Forced {
		fmt.Fprintln(t.out, "Submitted automatically when time ran out.")
	}
	fmt.Fprintf(t.out, "Score: %.1f%%  (%d correct, %d incorrect of %d)\n",
		r.Score, r.CorrectAnswers, r.IncorrectAnswers, r.TotalQuestions)
	fmt.Fprintf(t.out, "Time taken: %.1f minutes\n", r.TimeTakenMinutes)

	for i, d := range r.DetailedResults {
		status := "wrong"
		if d.IsCorrect {
			status = "correct"
		} else if d.UserAnswer == nil {
			status = "unanswered"
		}
		fmt.Fprintf(t.out, "\n%d. %s (%s)\n", i+1, d.QuestionText, status)
		if d.CorrectAnswer >= 0 && d.CorrectAnswer < len(d.Options) {
			fmt.Fprintf(t.out, "   Answer: %c) %s\n", 'A'+d.CorrectAnswer, d.Options[d.CorrectAnswer])
		}
		if d.Explanation != "" {
			fmt.Fprintf(t.out, "   %s\n", d.Explanation)
		}
	}

	if len(res.NewBadges) > 0 {
		fmt.Fprintf(t.out, "\nNew badges: %s\n", strings.Join(res.NewBadges, ", "))
	}
}

func (t *terminal) help() {
	fmt.Fprintln(t.out, "Commands: a-z or 1-9 select an option, n next, p previous, s submit (last question), q quit")
}

// screenChanged reports whether snap differs from prev by more than the countdown.
func screenChanged(prev, snap session.Snapshot) bool {
	return prev.State != snap.State ||
		prev.Index != snap.Index ||
		!maps.Equal(prev.Answers, snap.Answers)
}
