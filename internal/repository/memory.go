package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/session"
)

// MemoryStore is an in-process store with the same conditional write rules
// as the Postgres gateway. It is the test double for the service, handler,
// router and worker tests.
type MemoryStore struct {
	now func() time.Time

	mu        sync.RWMutex
	tests     map[uuid.UUID]model.Test
	subjects  map[uuid.UUID]string
	questions map[uuid.UUID][]model.Question
	attempts  map[uuid.UUID]*model.Attempt
	responses map[uuid.UUID]map[uuid.UUID]model.Response
}

var _ session.Gateway = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:       now,
		tests:     make(map[uuid.UUID]model.Test),
		subjects:  make(map[uuid.UUID]string),
		questions: make(map[uuid.UUID][]model.Question),
		attempts:  make(map[uuid.UUID]*model.Attempt),
		responses: make(map[uuid.UUID]map[uuid.UUID]model.Response),
	}
}

// PutTest stores a test with its questions.
func (m *MemoryStore) PutTest(t model.Test, questions []model.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.TotalQuestions = len(questions)
	m.tests[t.ID] = t
	m.questions[t.ID] = append([]model.Question(nil), questions...)
}

// PutSubject stores a subject name.
func (m *MemoryStore) PutSubject(id uuid.UUID, name string) {
	m.mu.Lock()
	m.subjects[id] = name
	m.mu.Unlock()
}

func (m *MemoryStore) GetTest(_ context.Context, id uuid.UUID) (*model.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return &t, nil
}

func (m *MemoryStore) ListQuestions(_ context.Context, testID uuid.UUID) ([]model.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs := append([]model.Question(nil), m.questions[testID]...)
	sort.Slice(qs, func(i, j int) bool {
		if !qs[i].CreatedAt.Equal(qs[j].CreatedAt) {
			return qs[i].CreatedAt.Before(qs[j].CreatedAt)
		}
		return bytes.Compare(qs[i].ID[:], qs[j].ID[:]) < 0
	})
	return qs, nil
}

func (m *MemoryStore) SubjectNames(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if name, ok := m.subjects[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (m *MemoryStore) FindInProgressAttempt(_ context.Context, userID, testID uuid.UUID) (*model.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a := m.openLocked(userID, testID); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) openLocked(userID, testID uuid.UUID) *model.Attempt {
	for _, a := range m.attempts {
		if a.UserID == userID && a.TestID == testID && a.Status == model.AttemptStatusInProgress {
			return a
		}
	}
	return nil
}

func (m *MemoryStore) CreateAttempt(_ context.Context, testID, userID uuid.UUID, totalQuestions int) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openLocked(userID, testID) != nil {
		return nil, session.ErrAttemptExists
	}
	a := &model.Attempt{
		ID:             uuid.New(),
		UserID:         userID,
		TestID:         testID,
		StartedAt:      m.now().Truncate(time.Microsecond),
		TotalQuestions: totalQuestions,
		Status:         model.AttemptStatusInProgress,
	}
	m.attempts[a.ID] = a
	m.responses[a.ID] = make(map[uuid.UUID]model.Response)
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetAttempt(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateAttempt(_ context.Context, id uuid.UUID, p model.AttemptPatch) error {
	if p.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return session.ErrNotFound
	}
	if a.Status != model.AttemptStatusInProgress {
		return session.ErrAttemptNotInProgress
	}
	a.Apply(p)
	return nil
}

// ListExpired mirrors AttemptRepository.ListExpired.
func (m *MemoryStore) ListExpired(_ context.Context, now time.Time, grace time.Duration, limit int) ([]ExpiredAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open []*model.Attempt
	for _, a := range m.attempts {
		if a.Status != model.AttemptStatusInProgress {
			continue
		}
		t := m.tests[a.TestID]
		deadline := a.StartedAt.Add(time.Duration(t.DurationSeconds())*time.Second + grace)
		if deadline.Before(now) {
			open = append(open, a)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].StartedAt.Before(open[j].StartedAt) })

	out := make([]ExpiredAttempt, 0, len(open))
	for _, a := range open {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, ExpiredAttempt{ID: a.ID, UserID: a.UserID, TestID: a.TestID})
	}
	return out, nil
}

func (m *MemoryStore) BulkCreateResponses(_ context.Context, attemptID uuid.UUID, questionIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.responses[attemptID]
	if !ok {
		return session.ErrNotFound
	}
	for _, qid := range questionIDs {
		if _, exists := rows[qid]; exists {
			continue
		}
		rows[qid] = model.Response{ID: uuid.New(), AttemptID: attemptID, QuestionID: qid, CreatedAt: m.now()}
	}
	return nil
}

func (m *MemoryStore) ListResponses(_ context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Response, 0, len(m.responses[attemptID]))
	for _, r := range m.responses[attemptID] {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) UpsertResponse(_ context.Context, r model.Response) (*model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[r.AttemptID]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return nil, session.ErrAttemptNotInProgress
	}

	rows := m.responses[r.AttemptID]
	if existing, ok := rows[r.QuestionID]; ok {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
	} else if !r.Persisted() {
		r.ID = uuid.New()
		r.CreatedAt = m.now()
	}
	rows[r.QuestionID] = r
	return &r, nil
}
