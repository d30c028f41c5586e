package model

import (
	"time"

	"github.com/google/uuid"
)

// Response is the candidate's interaction with one question within one attempt.
// A row exists for every question from attempt creation onwards, so "answered"
// means SelectedAnswer != nil, never row existence.
type Response struct {
	ID              uuid.UUID `json:"id"`
	AttemptID       uuid.UUID `json:"attempt_id"`
	QuestionID      uuid.UUID `json:"question_id"`
	SelectedAnswer  *Option   `json:"selected_answer"`
	IsCorrect       *bool     `json:"is_correct"`
	MarkedForReview bool      `json:"is_marked_for_review"`
	CreatedAt       time.Time `json:"created_at"`
}

// Answered reports whether an option is selected.
func (r Response) Answered() bool {
	return r.SelectedAnswer != nil
}

// Persisted reports whether the row carries a store-assigned id.
func (r Response) Persisted() bool {
	return r.ID != uuid.Nil
}

// Select sets the answer and recomputes correctness against q in one step.
func (r *Response) Select(o Option, q Question) {
	sel := o
	correct := q.IsCorrect(o)
	r.SelectedAnswer = &sel
	r.IsCorrect = &correct
}

// Clear removes the selection. IsCorrect becomes null with it.
func (r *Response) Clear() {
	r.SelectedAnswer = nil
	r.IsCorrect = nil
}
