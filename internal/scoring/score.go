// Package scoring computes attempt scores with negative marking.
package scoring

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Summary is the outcome of scoring one attempt.
type Summary struct {
	TotalQuestions int     `json:"total_questions"`
	AnsweredCount  int     `json:"answered_count"`
	CorrectCount   int     `json:"correct_count"`
	WrongCount     int     `json:"wrong_count"`
	MarksObtained  float64 `json:"marks_obtained"`
	TotalMarks     float64 `json:"total_marks"`
	Accuracy       float64 `json:"accuracy"`
}

// Score grades responses against questions. It has no side effects.
//
// Correctness is derived from the selected option and the answer key, never from
// the stored is_correct flag. Unanswered questions add nothing and cost nothing.
// MarksObtained is not floored at zero. Accuracy is correct/total*100, or 0 when
// the question set is empty.
func Score(questions []model.Question, responses map[uuid.UUID]model.Response) Summary {
	s := Summary{TotalQuestions: len(questions)}

	for _, q := range questions {
		s.TotalMarks += q.Marks

		r, ok := responses[q.ID]
		if !ok || r.SelectedAnswer == nil {
			continue
		}

		s.AnsweredCount++
		if q.IsCorrect(*r.SelectedAnswer) {
			s.CorrectCount++
			s.MarksObtained += q.Marks
		} else {
			s.WrongCount++
			s.MarksObtained -= q.NegativeMarks
		}
	}

	if s.TotalQuestions > 0 {
		s.Accuracy = float64(s.CorrectCount) * 100 / float64(s.TotalQuestions)
	}

	return s
}
