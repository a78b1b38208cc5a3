package model

// StartSessionRequest is the payload for starting an exam through the kiosk API.
type StartSessionRequest struct {
	QuestionCount int    `json:"question_count" binding:"required,min=1,max=100"`
	Category      string `json:"category" binding:"omitempty,max=100"`
	Difficulty    string `json:"difficulty" binding:"omitempty,oneof=easy medium hard"`
}

// SelectAnswerRequest is the payload for selecting an option through the kiosk API.
type SelectAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,max=100"`
	Option     *int   `json:"option" binding:"required,min=0"`
}
