package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
	AttemptStatusTimeout    AttemptStatus = "timeout"
)

// Terminal reports whether no further mutation is permitted.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusTimeout
}

// Attempt is one candidate's timed run through a test.
// Score fields are only authoritative once Status is terminal.
type Attempt struct {
	ID               uuid.UUID     `json:"id"`
	UserID           uuid.UUID     `json:"user_id"`
	TestID           uuid.UUID     `json:"test_id"`
	StartedAt        time.Time     `json:"started_at"`
	SubmittedAt      *time.Time    `json:"submitted_at,omitempty"`
	TimeTakenSeconds *int          `json:"time_taken_seconds,omitempty"`
	TotalQuestions   int           `json:"total_questions"`
	AnsweredCount    int           `json:"answered_count"`
	CorrectCount     int           `json:"correct_count"`
	WrongCount       int           `json:"wrong_count"`
	MarksObtained    float64       `json:"marks_obtained"`
	TotalMarks       float64       `json:"total_marks"`
	Accuracy         float64       `json:"accuracy"`
	Status           AttemptStatus `json:"status"`
}

// AttemptPatch is a partial update. Nil fields are left untouched.
type AttemptPatch struct {
	AnsweredCount    *int
	TimeTakenSeconds *int
	Status           *AttemptStatus
	SubmittedAt      *time.Time
	CorrectCount     *int
	WrongCount       *int
	MarksObtained    *float64
	TotalMarks       *float64
	Accuracy         *float64
}

// Terminal reports whether the patch finalizes the attempt.
func (p AttemptPatch) Terminal() bool {
	return p.Status != nil && p.Status.Terminal()
}

// Empty reports whether the patch sets nothing.
func (p AttemptPatch) Empty() bool {
	return p.AnsweredCount == nil && p.TimeTakenSeconds == nil && p.Status == nil &&
		p.SubmittedAt == nil && p.CorrectCount == nil && p.WrongCount == nil &&
		p.MarksObtained == nil && p.TotalMarks == nil && p.Accuracy == nil
}

// Apply copies every set field of p onto a.
func (a *Attempt) Apply(p AttemptPatch) {
	if p.AnsweredCount != nil {
		a.AnsweredCount = *p.AnsweredCount
	}
	if p.TimeTakenSeconds != nil {
		v := *p.TimeTakenSeconds
		a.TimeTakenSeconds = &v
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.SubmittedAt != nil {
		v := *p.SubmittedAt
		a.SubmittedAt = &v
	}
	if p.CorrectCount != nil {
		a.CorrectCount = *p.CorrectCount
	}
	if p.WrongCount != nil {
		a.WrongCount = *p.WrongCount
	}
	if p.MarksObtained != nil {
		a.MarksObtained = *p.MarksObtained
	}
	if p.TotalMarks != nil {
		a.TotalMarks = *p.TotalMarks
	}
	if p.Accuracy != nil {
		a.Accuracy = *p.Accuracy
	}
}
