package model

import "time"

// ArchiveRecord is everything persisted about one completed session.
type ArchiveRecord struct {
	Subject     string
	Exam        *ExamSession
	Answers     AnswerMap
	Result      *SubmitResult
	CompletedAt time.Time
}

// ArchivedResult is one row of the local result archive.
type ArchivedResult struct {
	SessionID        string    `json:"session_id"`
	Subject          string    `json:"subject,omitempty"`
	Score            float64   `json:"score"`
	TotalQuestions   int       `json:"total_questions"`
	CorrectAnswers   int       `json:"correct_answers"`
	IncorrectAnswers int       `json:"incorrect_answers"`
	TimeTakenMinutes float64   `json:"time_taken"`
	TimeLimitMinutes int       `json:"time_limit"`
	NewBadges        []string  `json:"new_badges"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
}
