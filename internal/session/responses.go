package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// errStoreSealed is returned by Upsert once the store has been sealed for scoring.
var errStoreSealed = errors.New("response store is sealed")

// ResponseStore is the authoritative in-memory view of one response per
// question for the active attempt. Local state changes first and is what
// scoring reads; the durable write follows as a best-effort side effect.
type ResponseStore struct {
	gw        Gateway
	attemptID uuid.UUID

	mu         sync.Mutex
	byQuestion map[uuid.UUID]model.Response
	sealed     bool

	// Serializes mutations of the same question so a selected/is_correct pair
	// is never interleaved with another write for that question.
	qmu   sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewResponseStore hydrates the store from persisted rows. Questions without a
// row get an unpersisted placeholder, which is inserted on first mutation.
func NewResponseStore(gw Gateway, attemptID uuid.UUID, questions []model.Question, persisted []model.Response) *ResponseStore {
	s := &ResponseStore{
		gw:         gw,
		attemptID:  attemptID,
		byQuestion: make(map[uuid.UUID]model.Response, len(questions)),
		locks:      make(map[uuid.UUID]*sync.Mutex, len(questions)),
	}
	for _, r := range persisted {
		s.byQuestion[r.QuestionID] = r
	}
	for _, q := range questions {
		if _, ok := s.byQuestion[q.ID]; !ok {
			s.byQuestion[q.ID] = model.Response{AttemptID: attemptID, QuestionID: q.ID}
		}
	}
	return s
}

// Get returns the current response for a question.
func (s *ResponseStore) Get(questionID uuid.UUID) (model.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byQuestion[questionID]
	return r, ok
}

// Snapshot returns a copy of every response, keyed by question id.
func (s *ResponseStore) Snapshot() map[uuid.UUID]model.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *ResponseStore) snapshotLocked() map[uuid.UUID]model.Response {
	out := make(map[uuid.UUID]model.Response, len(s.byQuestion))
	for k, v := range s.byQuestion {
		out[k] = v
	}
	return out
}

// AnsweredCount scans the current responses.
func (s *ResponseStore) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.byQuestion {
		if r.Answered() {
			n++
		}
	}
	return n
}

// MarkedCount scans the current responses.
func (s *ResponseStore) MarkedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.byQuestion {
		if r.MarkedForReview {
			n++
		}
	}
	return n
}

// Seal freezes the store and returns the snapshot to score. Mutations issued
// afterwards fail, so nothing can be accepted after the score is taken.
func (s *ResponseStore) Seal() map[uuid.UUID]model.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return s.snapshotLocked()
}

// Unseal reopens the store after a failed submission.
func (s *ResponseStore) Unseal() {
	s.mu.Lock()
	s.sealed = false
	s.mu.Unlock()
}

// Upsert applies mutate to the question's response and persists the result.
//
// mutate returns false to signal a no-op, in which case nothing is written.
// The in-memory change is kept even when the write fails; the returned error
// is then a *PersistenceWriteError and the response reflects the change.
func (s *ResponseStore) Upsert(ctx context.Context, op string, questionID uuid.UUID, mutate func(r *model.Response) bool) (model.Response, bool, error) {
	lock := s.lockFor(questionID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return model.Response{}, false, errStoreSealed
	}
	next, ok := s.byQuestion[questionID]
	if !ok {
		next = model.Response{AttemptID: s.attemptID, QuestionID: questionID}
	}
	if !mutate(&next) {
		s.mu.Unlock()
		return next, false, nil
	}
	s.byQuestion[questionID] = next
	s.mu.Unlock()

	saved, err := s.gw.UpsertResponse(ctx, next)
	if err != nil {
		return next, true, &PersistenceWriteError{Op: op, QuestionID: questionID, Err: err}
	}

	if !next.Persisted() && saved != nil {
		s.mu.Lock()
		cur := s.byQuestion[questionID]
		cur.ID = saved.ID
		cur.CreatedAt = saved.CreatedAt
		s.byQuestion[questionID] = cur
		next = cur
		s.mu.Unlock()
	}

	return next, true, nil
}

func (s *ResponseStore) lockFor(questionID uuid.UUID) *sync.Mutex {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	l, ok := s.locks[questionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[questionID] = l
	}
	return l
}
