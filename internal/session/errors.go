package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by the controller.
var (
	ErrNoQuestions          = errors.New("test has no questions")
	ErrConfirmationRequired = errors.New("manual submission requires confirmation")
	ErrAttemptFinalized     = errors.New("attempt has already been submitted")
	ErrSubmissionInFlight   = errors.New("attempt submission is in progress")
	ErrInvalidOption        = errors.New("option must be one of A, B, C, D")
)

// AttemptCreationError is fatal to session start. The caller must not enter a session.
type AttemptCreationError struct {
	TestID uuid.UUID
	UserID uuid.UUID
	Err    error
}

func (e *AttemptCreationError) Error() string {
	return fmt.Sprintf("start attempt for test %s: %v", e.TestID, e.Err)
}

func (e *AttemptCreationError) Unwrap() error { return e.Err }

// PersistenceWriteError reports a failed best-effort write. The in-memory state
// already reflects the change, so it must not block the candidate.
type PersistenceWriteError struct {
	Op         string
	QuestionID uuid.UUID
	Err        error
}

func (e *PersistenceWriteError) Error() string {
	if e.QuestionID == uuid.Nil {
		return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s for question %s: %v", e.Op, e.QuestionID, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }

// SubmissionError reports a failed terminal write. Submit may be retried.
type SubmissionError struct {
	AttemptID uuid.UUID
	Trigger   Trigger
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit attempt %s (%s): %v", e.AttemptID, e.Trigger, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsNonBlocking reports whether err leaves the session usable.
func IsNonBlocking(err error) bool {
	var pwe *PersistenceWriteError
	return errors.As(err, &pwe)
}
