package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stemsi/exstem-attempt/internal/session"
)

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Gateway is the Postgres-backed session.Gateway.
type Gateway struct {
	*TestRepository
	*QuestionRepository
	*AttemptRepository
	*ResponseRepository
}

var _ session.Gateway = (*Gateway)(nil)

// NewGateway wires every repository onto one pool.
func NewGateway(db DB) *Gateway {
	return &Gateway{
		TestRepository:     NewTestRepository(db),
		QuestionRepository: NewQuestionRepository(db),
		AttemptRepository:  NewAttemptRepository(db),
		ResponseRepository: NewResponseRepository(db),
	}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return session.ErrNotFound
	}
	return err
}
