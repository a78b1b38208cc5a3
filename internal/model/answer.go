package model

// AnswerMap maps Question.ID to the selected option index (0-based).
// An absent key means the question is unanswered.
type AnswerMap map[string]int

// Clone returns an independent copy safe to hand to other goroutines.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AnswerRequest is the body of POST /exam/{session_id}/answer.
type AnswerRequest struct {
	QuestionID     string `json:"question_id"`
	SelectedOption int    `json:"selected_option"`
}
