package model

import (
	"time"

	"github.com/google/uuid"
)

// Test is a pre-authored, timed question set.
type Test struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Description     *string   `json:"description,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalQuestions  int       `json:"total_questions"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DurationSeconds returns the allotted time in whole seconds.
func (t Test) DurationSeconds() int {
	return t.DurationMinutes * 60
}
