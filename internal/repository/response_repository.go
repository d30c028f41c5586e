package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/session"
)

// ResponseRepository handles per-question response data access.
type ResponseRepository struct {
	db DB
}

// NewResponseRepository creates a new ResponseRepository.
func NewResponseRepository(db DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// BulkCreateResponses allocates an empty response for every question in one
// statement. Rows that already exist are left alone.
func (r *ResponseRepository) BulkCreateResponses(ctx context.Context, attemptID uuid.UUID, questionIDs []uuid.UUID) error {
	if len(questionIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO test_responses (attempt_id, question_id, is_marked_for_review)
		 SELECT $1, q, FALSE FROM UNNEST($2::uuid[]) AS q
		 ON CONFLICT (attempt_id, question_id) DO NOTHING`,
		attemptID, questionIDs)
	return err
}

// ListResponses retrieves every response of an attempt.
func (r *ResponseRepository) ListResponses(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, attempt_id, question_id, selected_answer, is_correct, is_marked_for_review, created_at
		 FROM test_responses WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []model.Response
	for rows.Next() {
		var resp model.Response
		var selected *string
		if err := rows.Scan(&resp.ID, &resp.AttemptID, &resp.QuestionID, &selected,
			&resp.IsCorrect, &resp.MarkedForReview, &resp.CreatedAt); err != nil {
			return nil, err
		}
		if selected != nil {
			o := model.Option(*selected)
			resp.SelectedAnswer = &o
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

// UpsertResponse writes the full response state. A response without an id is
// inserted, or merged into an existing row for the same question; otherwise
// the row is updated by id. Both paths only succeed while the attempt is in
// progress.
func (r *ResponseRepository) UpsertResponse(ctx context.Context, resp model.Response) (*model.Response, error) {
	var selected *string
	if resp.SelectedAnswer != nil {
		s := string(*resp.SelectedAnswer)
		selected = &s
	}

	var row pgx.Row
	if resp.Persisted() {
		row = r.db.QueryRow(ctx,
			`UPDATE test_responses r
			 SET selected_answer = $2, is_correct = $3, is_marked_for_review = $4
			 FROM test_attempts a
			 WHERE r.id = $1 AND a.id = r.attempt_id AND a.status = 'in_progress'
			 RETURNING r.id, r.created_at`,
			resp.ID, selected, resp.IsCorrect, resp.MarkedForReview)
	} else {
		row = r.db.QueryRow(ctx,
			`INSERT INTO test_responses (attempt_id, question_id, selected_answer, is_correct, is_marked_for_review)
			 SELECT $1, $2, $3, $4, $5
			 WHERE EXISTS (SELECT 1 FROM test_attempts WHERE id = $1 AND status = 'in_progress')
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET selected_answer = EXCLUDED.selected_answer,
			     is_correct = EXCLUDED.is_correct,
			     is_marked_for_review = EXCLUDED.is_marked_for_review
			 RETURNING id, created_at`,
			resp.AttemptID, resp.QuestionID, selected, resp.IsCorrect, resp.MarkedForReview)
	}

	out := resp
	if err := row.Scan(&out.ID, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrAttemptNotInProgress
		}
		return nil, err
	}
	return &out, nil
}
