package model

// NavigateRequest moves the active question pointer.
type NavigateRequest struct {
	Index *int `json:"index" binding:"required"`
}

// SelectAnswerRequest selects an option for the active question.
type SelectAnswerRequest struct {
	Option string `json:"option" binding:"required,option"`
}

// SubmitRequest finishes the attempt. Confirm must be true for manual submission.
type SubmitRequest struct {
	Confirm bool `json:"confirm"`
}
