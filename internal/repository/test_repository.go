package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// TestRepository handles test data access.
type TestRepository struct {
	db DB
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(db DB) *TestRepository {
	return &TestRepository{db: db}
}

// GetTest retrieves a test by its UUID.
func (r *TestRepository) GetTest(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.db.QueryRow(ctx,
		`SELECT id, title, description, duration_minutes, total_questions, created_at, updated_at
		 FROM tests WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.Description, &t.DurationMinutes, &t.TotalQuestions, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}
