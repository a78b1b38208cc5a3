// Package progress derives the navigation and progress view of a session.
package progress

import (
	"fmt"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/session"
)

// View is what a question screen binds to.
type View struct {
	State         model.SessionState `json:"state"`
	Index         int                `json:"index"`
	Count         int                `json:"count"`
	Percent       float64            `json:"percent"`
	CanPrevious   bool               `json:"can_previous"`
	CanNext       bool               `json:"can_next"`
	CanSubmit     bool               `json:"can_submit"`
	AnsweredCount int                `json:"answered_count"`
	Remaining     int                `json:"remaining"`
	RemainingText string             `json:"remaining_text"`
}

// Percent is (index+1)/count*100, or 0 when there are no questions.
func Percent(index, count int) float64 {
	if count <= 0 {
		return 0
	}
	return float64(index+1) / float64(count) * 100
}

// FormatRemaining renders seconds as m:ss.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// FromSnapshot builds the view of snap. Navigation is only offered while the
// session is Active; submit is offered from the last question.
func FromSnapshot(snap session.Snapshot) View {
	count := snap.QuestionCount()
	active := snap.State == model.SessionStateActive

	v := View{
		State:         snap.State,
		Index:         snap.Index,
		Count:         count,
		AnsweredCount: len(snap.Answers),
		Remaining:     snap.Remaining,
		RemainingText: FormatRemaining(snap.Remaining),
	}
	if count > 0 {
		v.Percent = Percent(snap.Index, count)
	}
	if active {
		v.CanPrevious = snap.Index > 0
		v.CanNext = snap.Index < count-1
		v.CanSubmit = snap.Index == count-1
	}
	return v
}

// QuestionView is the current question together with the local selection.
type QuestionView struct {
	model.Question
	Number   int  `json:"number"`
	Selected *int `json:"selected"`
}

// CurrentQuestion returns the question at the snapshot's index, or nil while
// the exam is loading.
func CurrentQuestion(snap session.Snapshot) *QuestionView {
	q := snap.Current()
	if q == nil {
		return nil
	}
	qv := &QuestionView{Question: *q, Number: snap.Index + 1}
	if opt, ok := snap.Answers[q.ID]; ok {
		qv.Selected = &opt
	}
	return qv
}
