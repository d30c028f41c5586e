package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeGateway is an in-memory Gateway that enforces the in_progress write
// condition the same way the Postgres gateway does.
type fakeGateway struct {
	clock *fakeClock

	mu        sync.Mutex
	tests     map[uuid.UUID]model.Test
	questions map[uuid.UUID][]model.Question
	attempts  map[uuid.UUID]*model.Attempt
	responses map[uuid.UUID]map[uuid.UUID]model.Response

	createErr      error
	bulkErr        error
	upsertErr      error
	updateErr      error
	failTerminal   int
	beforeCreate   func()
	upsertCalls    int
	updateCalls    int
	terminalWrites int
}

func newFakeGateway(clock *fakeClock) *fakeGateway {
	return &fakeGateway{
		clock:     clock,
		tests:     make(map[uuid.UUID]model.Test),
		questions: make(map[uuid.UUID][]model.Question),
		attempts:  make(map[uuid.UUID]*model.Attempt),
		responses: make(map[uuid.UUID]map[uuid.UUID]model.Response),
	}
}

// seed creates a test of n questions, each worth 1 mark with 0.25 negative
// marking and B as the key.
func (g *fakeGateway) seed(n, durationMinutes int) (model.Test, []model.Question) {
	test := model.Test{ID: uuid.New(), Title: "Physics Mock 1", DurationMinutes: durationMinutes, TotalQuestions: n}
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:            uuid.New(),
			TestID:        test.ID,
			QuestionText:  "Q",
			OptionA:       "a",
			OptionB:       "b",
			OptionC:       "c",
			OptionD:       "d",
			CorrectAnswer: model.OptionB,
			Marks:         1,
			NegativeMarks: 0.25,
		}
	}

	g.mu.Lock()
	g.tests[test.ID] = test
	g.questions[test.ID] = qs
	g.mu.Unlock()
	return test, qs
}

func (g *fakeGateway) attempt(id uuid.UUID) model.Attempt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.attempts[id]
}

func (g *fakeGateway) attemptCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.attempts)
}

func (g *fakeGateway) storedResponses(attemptID uuid.UUID) map[uuid.UUID]model.Response {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[uuid.UUID]model.Response)
	for k, v := range g.responses[attemptID] {
		out[k] = v
	}
	return out
}

func (g *fakeGateway) counts() (upserts, updates, terminal int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.upsertCalls, g.updateCalls, g.terminalWrites
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	fn(g)
	g.mu.Unlock()
}

func (g *fakeGateway) insertAttemptLocked(testID, userID uuid.UUID, total int) *model.Attempt {
	a := &model.Attempt{
		ID:             uuid.New(),
		UserID:         userID,
		TestID:         testID,
		StartedAt:      g.clock.Now(),
		TotalQuestions: total,
		Status:         model.AttemptStatusInProgress,
	}
	g.attempts[a.ID] = a
	g.responses[a.ID] = make(map[uuid.UUID]model.Response)
	return a
}

func (g *fakeGateway) GetTest(_ context.Context, testID uuid.UUID) (*model.Test, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tests[testID]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (g *fakeGateway) ListQuestions(_ context.Context, testID uuid.UUID) ([]model.Question, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Question(nil), g.questions[testID]...), nil
}

func (g *fakeGateway) FindInProgressAttempt(_ context.Context, userID, testID uuid.UUID) (*model.Attempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.attempts {
		if a.UserID == userID && a.TestID == testID && a.Status == model.AttemptStatusInProgress {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) CreateAttempt(_ context.Context, testID, userID uuid.UUID, total int) (*model.Attempt, error) {
	g.mu.Lock()
	hook := g.beforeCreate
	g.mu.Unlock()
	if hook != nil {
		hook()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	for _, a := range g.attempts {
		if a.UserID == userID && a.TestID == testID && a.Status == model.AttemptStatusInProgress {
			return nil, ErrAttemptExists
		}
	}
	cp := *g.insertAttemptLocked(testID, userID, total)
	return &cp, nil
}

func (g *fakeGateway) GetAttempt(_ context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.attempts[attemptID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (g *fakeGateway) UpdateAttempt(_ context.Context, attemptID uuid.UUID, patch model.AttemptPatch) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++

	if patch.Terminal() && g.failTerminal > 0 {
		g.failTerminal--
		return errBoom
	}
	if !patch.Terminal() && g.updateErr != nil {
		return g.updateErr
	}

	a, ok := g.attempts[attemptID]
	if !ok {
		return ErrNotFound
	}
	if a.Status != model.AttemptStatusInProgress {
		return ErrAttemptNotInProgress
	}
	a.Apply(patch)
	if patch.Terminal() {
		g.terminalWrites++
	}
	return nil
}

func (g *fakeGateway) BulkCreateResponses(_ context.Context, attemptID uuid.UUID, questionIDs []uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bulkErr != nil {
		return g.bulkErr
	}
	rows := g.responses[attemptID]
	for _, qid := range questionIDs {
		if _, ok := rows[qid]; ok {
			continue
		}
		rows[qid] = model.Response{ID: uuid.New(), AttemptID: attemptID, QuestionID: qid, CreatedAt: g.clock.Now()}
	}
	return nil
}

func (g *fakeGateway) ListResponses(_ context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Response, 0, len(g.responses[attemptID]))
	for _, r := range g.responses[attemptID] {
		out = append(out, r)
	}
	return out, nil
}

func (g *fakeGateway) UpsertResponse(_ context.Context, r model.Response) (*model.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertCalls++

	if g.upsertErr != nil {
		return nil, g.upsertErr
	}
	a, ok := g.attempts[r.AttemptID]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotInProgress
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
		r.CreatedAt = g.clock.Now()
	}
	g.responses[r.AttemptID][r.QuestionID] = r
	return &r, nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	failed   map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{outcomes: map[string]int{}, failed: map[string]int{}}
}

func (o *countingObserver) SubmissionSettled(trigger Trigger, outcome string) {
	o.mu.Lock()
	o.outcomes[string(trigger)+"/"+outcome]++
	o.mu.Unlock()
}

func (o *countingObserver) WriteFailed(op string) {
	o.mu.Lock()
	o.failed[op]++
	o.mu.Unlock()
}
