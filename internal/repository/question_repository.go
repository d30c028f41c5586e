package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	db DB
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(db DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// ListQuestions retrieves all questions of a test in creation order.
// id breaks ties so the order is stable across sessions.
func (r *QuestionRepository) ListQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, test_id, subject_id, question_text, option_a, option_b, option_c, option_d,
		        correct_answer, marks, negative_marks, created_at
		 FROM questions WHERE test_id = $1
		 ORDER BY created_at, id`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var correct string
		if err := rows.Scan(&q.ID, &q.TestID, &q.SubjectID, &q.QuestionText,
			&q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD,
			&correct, &q.Marks, &q.NegativeMarks, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.CorrectAnswer = model.Option(correct)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// SubjectNames resolves subject ids to display names.
func (r *QuestionRepository) SubjectNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	rows, err := r.db.Query(ctx, `SELECT id, name FROM subjects WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}
