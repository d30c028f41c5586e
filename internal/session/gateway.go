// Package session runs a single timed attempt: start or resume, answer
// bookkeeping, the wall-clock countdown and exactly-once submission.
package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Errors returned by Gateway implementations.
var (
	ErrNotFound = errors.New("record not found")
	// ErrAttemptExists is returned by CreateAttempt when an in-progress attempt
	// already exists for the (user, test) pair.
	ErrAttemptExists = errors.New("an in-progress attempt already exists")
	// ErrAttemptNotInProgress is returned by writes against an attempt whose
	// stored status has already left in_progress.
	ErrAttemptNotInProgress = errors.New("attempt is no longer in progress")
)

// Gateway is the durable store the session engine reads and writes through.
//
// Every write against an attempt or its responses must be conditional on the
// stored attempt status still being in_progress, and must fail with
// ErrAttemptNotInProgress otherwise. This is what keeps a timeout tick and a
// nearly simultaneous manual submit from both finalizing.
type Gateway interface {
	GetTest(ctx context.Context, testID uuid.UUID) (*model.Test, error)
	// ListQuestions returns the test's questions in stable creation order.
	ListQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error)

	// FindInProgressAttempt returns nil, nil when there is none.
	FindInProgressAttempt(ctx context.Context, userID, testID uuid.UUID) (*model.Attempt, error)
	CreateAttempt(ctx context.Context, testID, userID uuid.UUID, totalQuestions int) (*model.Attempt, error)
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error)
	UpdateAttempt(ctx context.Context, attemptID uuid.UUID, patch model.AttemptPatch) error

	// BulkCreateResponses allocates one empty response per question. Existing
	// (attempt, question) rows are left alone.
	BulkCreateResponses(ctx context.Context, attemptID uuid.UUID, questionIDs []uuid.UUID) error
	ListResponses(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error)
	// UpsertResponse inserts when r.ID is nil and updates by id otherwise.
	UpsertResponse(ctx context.Context, r model.Response) (*model.Response, error)
}
