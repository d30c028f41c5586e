package scoring

import (
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// OtherSubject groups questions that carry no subject tag.
const OtherSubject = "other"

// SubjectBreakdown tallies one subject's questions.
type SubjectBreakdown struct {
	Subject    string `json:"subject"`
	Total      int    `json:"total"`
	Correct    int    `json:"correct"`
	Wrong      int    `json:"wrong"`
	Unanswered int    `json:"unanswered"`
}

// BreakdownBySubject groups the outcome per subject, in order of first appearance.
func BreakdownBySubject(questions []model.Question, responses map[uuid.UUID]model.Response) []SubjectBreakdown {
	var out []SubjectBreakdown
	idx := make(map[string]int)

	for _, q := range questions {
		key := OtherSubject
		if q.SubjectID != nil {
			key = q.SubjectID.String()
		}

		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, SubjectBreakdown{Subject: key})
		}

		b := &out[i]
		b.Total++

		r, answered := responses[q.ID]
		switch {
		case !answered || r.SelectedAnswer == nil:
			b.Unanswered++
		case q.IsCorrect(*r.SelectedAnswer):
			b.Correct++
		default:
			b.Wrong++
		}
	}

	return out
}
