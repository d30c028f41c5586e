package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Option is one of the four answer tags of a multiple-choice question.
type Option string

const (
	OptionA Option = "A"
	OptionB Option = "B"
	OptionC Option = "C"
	OptionD Option = "D"
)

// Options lists the valid tags in display order.
var Options = []Option{OptionA, OptionB, OptionC, OptionD}

// Valid reports whether o is one of A, B, C or D.
func (o Option) Valid() bool {
	switch o {
	case OptionA, OptionB, OptionC, OptionD:
		return true
	}
	return false
}

// ParseOption accepts a tag in either case.
func ParseOption(s string) (Option, error) {
	o := Option(strings.ToUpper(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", fmt.Errorf("invalid option %q", s)
	}
	return o, nil
}

// Question is read-only for the lifetime of an attempt.
type Question struct {
	ID            uuid.UUID  `json:"id"`
	TestID        uuid.UUID  `json:"test_id"`
	SubjectID     *uuid.UUID `json:"subject_id,omitempty"`
	QuestionText  string     `json:"question_text"`
	OptionA       string     `json:"option_a"`
	OptionB       string     `json:"option_b"`
	OptionC       string     `json:"option_c"`
	OptionD       string     `json:"option_d"`
	CorrectAnswer Option     `json:"correct_answer"`
	Marks         float64    `json:"marks"`
	NegativeMarks float64    `json:"negative_marks"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsCorrect compares a selected tag against the answer key.
func (q Question) IsCorrect(o Option) bool {
	return o == q.CorrectAnswer
}

// ForCandidate strips the answer key and marking scheme.
func (q Question) ForCandidate() QuestionForCandidate {
	return QuestionForCandidate{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		Options: map[Option]string{
			OptionA: q.OptionA,
			OptionB: q.OptionB,
			OptionC: q.OptionC,
			OptionD: q.OptionD,
		},
	}
}

// QuestionForCandidate is a question without the correct answer, sent to candidates.
type QuestionForCandidate struct {
	ID           uuid.UUID         `json:"id"`
	QuestionText string            `json:"question_text"`
	Options      map[Option]string `json:"options"`
}
