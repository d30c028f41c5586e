package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// QuestionStatus is the palette state of one question.
type QuestionStatus string

const (
	StatusUnanswered     QuestionStatus = "unanswered"
	StatusAnswered       QuestionStatus = "answered"
	StatusReview         QuestionStatus = "review"
	StatusReviewAnswered QuestionStatus = "review-answered"
)

// StatusOf derives the palette state from a response.
func StatusOf(r model.Response) QuestionStatus {
	switch {
	case r.MarkedForReview && r.Answered():
		return StatusReviewAnswered
	case r.MarkedForReview:
		return StatusReview
	case r.Answered():
		return StatusAnswered
	}
	return StatusUnanswered
}

// TimerLevel tells the UI how urgently to render the countdown.
type TimerLevel string

const (
	TimerNormal   TimerLevel = "normal"
	TimerWarning  TimerLevel = "warning"
	TimerCritical TimerLevel = "critical"
)

// Countdown thresholds in seconds.
const (
	WarningThreshold  = 600
	CriticalThreshold = 300
)

// LevelFor maps remaining seconds to a timer level.
func LevelFor(remaining int) TimerLevel {
	switch {
	case remaining < CriticalThreshold:
		return TimerCritical
	case remaining < WarningThreshold:
		return TimerWarning
	}
	return TimerNormal
}

// PaletteEntry is one cell of the question palette.
type PaletteEntry struct {
	Index      int            `json:"index"`
	QuestionID uuid.UUID      `json:"question_id"`
	Status     QuestionStatus `json:"status"`
}

// State is everything a client needs to render the session.
type State struct {
	AttemptID        uuid.UUID                  `json:"attempt_id"`
	TestID           uuid.UUID                  `json:"test_id"`
	Title            string                     `json:"title"`
	Status           model.AttemptStatus        `json:"status"`
	StartedAt        string                     `json:"started_at"`
	DurationSeconds  int                        `json:"duration_seconds"`
	RemainingSeconds int                        `json:"remaining_seconds"`
	TimerLevel       TimerLevel                 `json:"timer_level"`
	CurrentIndex     int                        `json:"current_index"`
	TotalQuestions   int                        `json:"total_questions"`
	AnsweredCount    int                        `json:"answered_count"`
	MarkedCount      int                        `json:"marked_count"`
	NotAnsweredCount int                        `json:"not_answered_count"`
	Palette          []PaletteEntry             `json:"palette"`
	Question         model.QuestionForCandidate `json:"question"`
	Response         model.Response             `json:"response"`
}

// State builds a consistent view of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	attempt := c.attempt
	current := c.current
	c.mu.Unlock()

	snapshot := c.store.Snapshot()
	remaining := c.timer.Remaining()
	if attempt.Status.Terminal() {
		remaining = 0
	}

	st := State{
		AttemptID:        attempt.ID,
		TestID:           c.test.ID,
		Title:            c.test.Title,
		Status:           attempt.Status,
		StartedAt:        attempt.StartedAt.UTC().Format(time.RFC3339),
		DurationSeconds:  c.timer.DurationSeconds(),
		RemainingSeconds: remaining,
		TimerLevel:       LevelFor(remaining),
		CurrentIndex:     current,
		TotalQuestions:   len(c.questions),
		Palette:          make([]PaletteEntry, len(c.questions)),
	}

	for i, q := range c.questions {
		r := snapshot[q.ID]
		st.Palette[i] = PaletteEntry{Index: i, QuestionID: q.ID, Status: StatusOf(r)}
		if r.Answered() {
			st.AnsweredCount++
		}
		if r.MarkedForReview {
			st.MarkedCount++
		}
	}
	st.NotAnsweredCount = st.TotalQuestions - st.AnsweredCount

	q := c.questions[current]
	st.Question = q.ForCandidate()
	st.Response = snapshot[q.ID]

	return st
}
