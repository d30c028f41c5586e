package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/session"
)

const attemptColumns = `id, user_id, test_id, started_at, submitted_at, time_taken_seconds,
		        total_questions, answered_count, correct_count, wrong_count,
		        marks_obtained, total_marks, accuracy, status`

// AttemptRepository handles test attempt data access.
type AttemptRepository struct {
	db DB
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.UserID, &a.TestID, &a.StartedAt, &a.SubmittedAt, &a.TimeTakenSeconds,
		&a.TotalQuestions, &a.AnsweredCount, &a.CorrectCount, &a.WrongCount,
		&a.MarksObtained, &a.TotalMarks, &a.Accuracy, &a.Status)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindInProgressAttempt returns the open attempt for a candidate and test, or nil.
func (r *AttemptRepository) FindInProgressAttempt(ctx context.Context, userID, testID uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM test_attempts
		 WHERE user_id = $1 AND test_id = $2 AND status = 'in_progress'`, userID, testID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// CreateAttempt inserts a new in-progress attempt. The partial unique index on
// open attempts turns a concurrent start into session.ErrAttemptExists.
func (r *AttemptRepository) CreateAttempt(ctx context.Context, testID, userID uuid.UUID, totalQuestions int) (*model.Attempt, error) {
	a, err := scanAttempt(r.db.QueryRow(ctx,
		`INSERT INTO test_attempts (user_id, test_id, total_questions, status)
		 VALUES ($1, $2, $3, 'in_progress')
		 ON CONFLICT (user_id, test_id) WHERE status = 'in_progress' DO NOTHING
		 RETURNING `+attemptColumns, userID, testID, totalQuestions,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrAttemptExists
	}
	return a, err
}

// GetAttempt retrieves an attempt by its UUID.
func (r *AttemptRepository) GetAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM test_attempts WHERE id = $1`, id,
	))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// UpdateAttempt applies a partial update, but only while the stored status is
// still in_progress.
func (r *AttemptRepository) UpdateAttempt(ctx context.Context, id uuid.UUID, p model.AttemptPatch) error {
	if p.Empty() {
		return nil
	}

	args := []any{id}
	var sets []string
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.AnsweredCount != nil {
		set("answered_count", *p.AnsweredCount)
	}
	if p.TimeTakenSeconds != nil {
		set("time_taken_seconds", *p.TimeTakenSeconds)
	}
	if p.CorrectCount != nil {
		set("correct_count", *p.CorrectCount)
	}
	if p.WrongCount != nil {
		set("wrong_count", *p.WrongCount)
	}
	if p.MarksObtained != nil {
		set("marks_obtained", *p.MarksObtained)
	}
	if p.TotalMarks != nil {
		set("total_marks", *p.TotalMarks)
	}
	if p.Accuracy != nil {
		set("accuracy", *p.Accuracy)
	}
	if p.SubmittedAt != nil {
		set("submitted_at", *p.SubmittedAt)
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE test_attempts SET `+strings.Join(sets, ", ")+`
		 WHERE id = $1 AND status = 'in_progress'`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.rejected(ctx, id)
	}
	return nil
}

// rejected tells a missing attempt apart from a finalized one.
func (r *AttemptRepository) rejected(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM test_attempts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return session.ErrNotFound
	}
	return session.ErrAttemptNotInProgress
}

// ExpiredAttempt identifies an open attempt whose time has run out.
type ExpiredAttempt struct {
	ID     uuid.UUID
	UserID uuid.UUID
	TestID uuid.UUID
}

// ListExpired returns open attempts whose started_at + duration + grace is
// before now, oldest first.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]ExpiredAttempt, error) {
	rows, err := r.db.Query(ctx,
		`SELECT a.id, a.user_id, a.test_id
		 FROM test_attempts a
		 JOIN tests t ON t.id = a.test_id
		 WHERE a.status = 'in_progress'
		   AND a.started_at + make_interval(mins => t.duration_minutes) + make_interval(secs => $2) < $1
		 ORDER BY a.started_at
		 LIMIT $3`, now, grace.Seconds(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpiredAttempt
	for rows.Next() {
		var e ExpiredAttempt
		if err := rows.Scan(&e.ID, &e.UserID, &e.TestID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
