package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type serviceFixture struct {
	clock   *testClock
	store   *repository.MemoryStore
	rdb     *redis.Client
	test    model.Test
	qs      []model.Question
	physics uuid.UUID
	userID  uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryStore(clock.Now)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	physics := uuid.New()
	store.PutSubject(physics, "Physics")

	test := model.Test{ID: uuid.New(), Title: "Mock", DurationMinutes: 10}
	qs := make([]model.Question, 3)
	for i := range qs {
		qs[i] = model.Question{
			ID:            uuid.New(),
			TestID:        test.ID,
			CorrectAnswer: model.OptionB,
			Marks:         4,
			NegativeMarks: 1,
			CreatedAt:     clock.Now().Add(time.Duration(i) * time.Second),
		}
	}
	qs[0].SubjectID = &physics
	qs[1].SubjectID = &physics
	store.PutTest(test, qs)

	return &serviceFixture{clock: clock, store: store, rdb: rdb, test: test, qs: qs, physics: physics, userID: uuid.New()}
}

func (f *serviceFixture) service(t *testing.T) *AttemptService {
	t.Helper()
	svc := NewAttemptService(f.store, f.rdb, AttemptServiceConfig{
		TickInterval:    time.Hour,
		CheckpointEvery: 30,
		Now:             f.clock.Now,
	}, zerolog.Nop())
	t.Cleanup(svc.Shutdown)
	return svc
}

func TestAttemptService_StartReusesLiveSession(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)
	second, err := svc.Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, svc.LiveCount())

	got, err := svc.Session(ctx, first.AttemptID(), f.userID)
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestAttemptService_ConcurrentStartsShareOneAttempt(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service(t)

	ids := make([]uuid.UUID, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctrl, err := svc.Start(context.Background(), f.test.ID, f.userID)
			if assert.NoError(t, err) {
				ids[i] = ctrl.AttemptID()
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestAttemptService_SessionRejectsOtherCandidate(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service(t)
	ctx := context.Background()

	ctrl, err := svc.Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)

	_, err = svc.Session(ctx, ctrl.AttemptID(), uuid.New())
	assert.ErrorIs(t, err, ErrAttemptForbidden)

	// Also when the attempt is not live on this instance.
	other := f.service(t)
	_, err = other.Session(ctx, ctrl.AttemptID(), uuid.New())
	assert.ErrorIs(t, err, ErrAttemptForbidden)
}

func TestAttemptService_SessionResumesOnAnotherInstance(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ctrl, err := f.service(t).Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)
	_, err = ctrl.SelectAnswer(ctx, model.OptionB)
	require.NoError(t, err)

	other := f.service(t)
	resumed, err := other.Session(ctx, ctrl.AttemptID(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, ctrl.AttemptID(), resumed.AttemptID())
	assert.Equal(t, 1, resumed.State().AnsweredCount)
}

func TestAttemptService_SubmitPublishesAndUnregisters(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service(t)
	ctx := context.Background()

	ctrl, err := svc.Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := svc.Subscribe(subCtx, ctrl.AttemptID())

	res, err := svc.Submit(ctx, ctrl.AttemptID(), f.userID, session.TriggerManual, true)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusCompleted, res.Attempt.Status)

	select {
	case ev := <-events:
		assert.Equal(t, model.AttemptEventFinalized, ev.Type)
		assert.Equal(t, ctrl.AttemptID(), ev.AttemptID)
		assert.Equal(t, model.AttemptStatusCompleted, ev.Status)
		assert.Equal(t, "manual", ev.Trigger)
	case <-time.After(2 * time.Second):
		t.Fatal("finalized event not received")
	}

	require.Eventually(t, func() bool { return svc.LiveCount() == 0 }, time.Second, 10*time.Millisecond)

	_, err = svc.Session(ctx, ctrl.AttemptID(), f.userID)
	assert.ErrorIs(t, err, session.ErrAttemptFinalized)
}

func TestAttemptService_SubmitAfterRestartReturnsStoredResult(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ctrl, err := f.service(t).Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)
	first, err := ctrl.Submit(ctx, session.TriggerManual, true)
	require.NoError(t, err)

	fresh := f.service(t)
	again, err := fresh.Submit(ctx, ctrl.AttemptID(), f.userID, session.TriggerTimeout, false)
	require.NoError(t, err)
	assert.Equal(t, first.Attempt.ID, again.Attempt.ID)
	assert.Equal(t, model.AttemptStatusCompleted, again.Attempt.Status)
	assert.Equal(t, session.TriggerManual, again.Trigger)
}

func TestAttemptService_Result(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service(t)
	ctx := context.Background()

	ctrl, err := svc.Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)

	_, err = svc.Result(ctx, ctrl.AttemptID(), f.userID)
	assert.ErrorIs(t, err, ErrAttemptNotFinalized)

	_, err = ctrl.SelectAnswer(ctx, model.OptionB)
	require.NoError(t, err)
	_, err = ctrl.Navigate(1)
	require.NoError(t, err)
	_, err = ctrl.SelectAnswer(ctx, model.OptionC)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, ctrl.AttemptID(), f.userID, session.TriggerManual, true)
	require.NoError(t, err)

	view, err := svc.Result(ctx, ctrl.AttemptID(), f.userID)
	require.NoError(t, err)

	assert.InDelta(t, 3.0, view.Attempt.MarksObtained, 1e-9)
	assert.InDelta(t, 12.0, view.Attempt.TotalMarks, 1e-9)
	require.Len(t, view.Questions, 3)
	assert.Equal(t, f.qs[0].ID, view.Questions[0].ID)
	assert.Equal(t, model.OptionB, *view.Questions[0].Response.SelectedAnswer)
	assert.Nil(t, view.Questions[2].Response.SelectedAnswer)

	require.Len(t, view.Subjects, 2)
	assert.Equal(t, "Physics", view.Subjects[0].Subject)
	assert.Equal(t, 1, view.Subjects[0].Correct)
	assert.Equal(t, 1, view.Subjects[0].Wrong)
	assert.Equal(t, "other", view.Subjects[1].Subject)
	assert.Equal(t, 1, view.Subjects[1].Unanswered)

	_, err = svc.Result(ctx, ctrl.AttemptID(), uuid.New())
	assert.ErrorIs(t, err, ErrAttemptForbidden)
}

func TestAttemptService_ExpireAbandonedAttempt(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ctrl, err := f.service(t).Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)
	_, err = ctrl.SelectAnswer(ctx, model.OptionB)
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)

	sweeper := f.service(t)
	res, err := sweeper.Expire(ctx, ctrl.AttemptID(), f.userID, f.test.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusTimeout, res.Attempt.Status)
	assert.Equal(t, 1, res.Attempt.CorrectCount)
	assert.Equal(t, 600, *res.Attempt.TimeTakenSeconds)
	assert.Zero(t, sweeper.LiveCount())

	stored, err := f.store.GetAttempt(ctx, ctrl.AttemptID())
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusTimeout, stored.Status)
}

func TestAttemptService_ExpireLiveSession(t *testing.T) {
	f := newServiceFixture(t)
	svc := f.service(t)
	ctx := context.Background()

	ctrl, err := svc.Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)

	res, err := svc.Expire(ctx, ctrl.AttemptID(), f.userID, f.test.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusTimeout, res.Attempt.Status)

	select {
	case <-ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("live controller not finalized")
	}
}

func TestAttemptService_ExpireAfterLiveSubmitCreatesNothing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	live := f.service(t)
	ctrl, err := live.Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)
	_, err = ctrl.SelectAnswer(ctx, model.OptionB)
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)
	listed, err := f.store.ListExpired(ctx, f.clock.Now(), 5*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	// The owning instance times the attempt out before the sweep reaches it.
	first, err := ctrl.Submit(ctx, session.TriggerTimeout, false)
	require.NoError(t, err)

	sweeper := f.service(t)
	res, err := sweeper.Expire(ctx, listed[0].ID, listed[0].UserID, listed[0].TestID)
	require.NoError(t, err)
	assert.Equal(t, first.Attempt.ID, res.Attempt.ID)
	assert.Equal(t, model.AttemptStatusTimeout, res.Attempt.Status)
	assert.Equal(t, 1, res.Attempt.CorrectCount)

	assert.Zero(t, sweeper.LiveCount())
	open, err := f.store.FindInProgressAttempt(ctx, f.userID, f.test.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestAttemptService_SessionOnFinalizedAttemptCreatesNothing(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	ctrl, err := f.service(t).Start(ctx, f.test.ID, f.userID)
	require.NoError(t, err)
	_, err = ctrl.Submit(ctx, session.TriggerManual, true)
	require.NoError(t, err)

	other := f.service(t)
	_, err = other.Session(ctx, ctrl.AttemptID(), f.userID)
	assert.ErrorIs(t, err, session.ErrAttemptFinalized)
	assert.Zero(t, other.LiveCount())

	open, err := f.store.FindInProgressAttempt(ctx, f.userID, f.test.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
}
