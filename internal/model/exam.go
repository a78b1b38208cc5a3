package model

import "time"

// Difficulty is the optional difficulty filter/label of a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Question is one multiple-choice item. Correct answers never reach the client.
type Question struct {
	ID         string     `json:"id" validate:"required"`
	Text       string     `json:"text" validate:"required"`
	Options    []string   `json:"options" validate:"min=2"`
	ImageURL   *string    `json:"image_url,omitempty"`
	VideoURL   *string    `json:"video_url,omitempty"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
	Category   string     `json:"category,omitempty"`
}

// ExamSession is the payload returned by POST /exam/start. It is immutable once
// fetched; the time remaining lives in the countdown timer.
type ExamSession struct {
	SessionID        string     `json:"session_id" validate:"required"`
	TimeLimitMinutes int        `json:"time_limit" validate:"gt=0"`
	Questions        []Question `json:"questions" validate:"min=1,unique=ID,dive"`
	StartedAt        time.Time  `json:"-"`
}

// TimeLimitSeconds is the countdown budget of the session.
func (s *ExamSession) TimeLimitSeconds() int {
	return s.TimeLimitMinutes * 60
}

// HasQuestion reports whether id belongs to this session.
func (s *ExamSession) HasQuestion(id string) bool {
	_, ok := s.QuestionByID(id)
	return ok
}

// QuestionByID looks up a question of the session by its identifier.
func (s *ExamSession) QuestionByID(id string) (*Question, bool) {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i], true
		}
	}
	return nil, false
}

// StartOptions are the query parameters of POST /exam/start.
type StartOptions struct {
	QuestionCount int
	Category      string
	Difficulty    Difficulty
}

// HistoryEntry is one completed session as listed by GET /exam/history.
type HistoryEntry struct {
	ID               string         `json:"id"`
	Questions        []string       `json:"questions"`
	Answers          map[string]int `json:"answers"`
	Score            *float64       `json:"score,omitempty"`
	Status           string         `json:"status"`
	StartedAt        string         `json:"started_at"`
	CompletedAt      *string        `json:"completed_at,omitempty"`
	TimeLimitMinutes int            `json:"time_limit"`
}

// Profile is the authenticated user as returned by GET /auth/me.
type Profile struct {
	ID         string   `json:"id"`
	Username   string   `json:"username"`
	Email      string   `json:"email"`
	TotalExams int      `json:"total_exams"`
	TotalScore float64  `json:"total_score"`
	Badges     []string `json:"badges"`
}
