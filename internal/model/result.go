package model

// QuestionOutcome is the per-question part of an ExamResult.
type QuestionOutcome struct {
	QuestionID    string   `json:"question_id"`
	QuestionText  string   `json:"question_text"`
	Options       []string `json:"options"`
	UserAnswer    *int     `json:"user_answer"`
	CorrectAnswer int      `json:"correct_answer"`
	IsCorrect     bool     `json:"is_correct"`
	Explanation   string   `json:"explanation"`
}

// ExamResult is produced once per session by the scoring service.
type ExamResult struct {
	SessionID        string            `json:"session_id"`
	Score            float64           `json:"score" validate:"gte=0,lte=100"`
	TotalQuestions   int               `json:"total_questions"`
	CorrectAnswers   int               `json:"correct_answers" validate:"gte=0"`
	IncorrectAnswers int               `json:"incorrect_answers" validate:"gte=0"`
	TimeTakenMinutes float64           `json:"time_taken" validate:"gte=0"`
	DetailedResults  []QuestionOutcome `json:"detailed_results"`
}

// Consistent reports whether the result accounts for exactly questionCount questions.
func (r *ExamResult) Consistent(questionCount int) bool {
	return r.CorrectAnswers+r.IncorrectAnswers == questionCount
}

// SubmitResult is the body of POST /exam/{session_id}/submit.
type SubmitResult struct {
	Result    ExamResult `json:"result"`
	NewBadges []string   `json:"new_badges,omitempty"`
}
