package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweepFixture struct {
	now    time.Time
	store  *repository.MemoryStore
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	svc    *service.AttemptService
	test   model.Test
	userID uuid.UUID
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	f := &sweepFixture{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), userID: uuid.New()}
	clock := func() time.Time { return f.now }

	f.store = repository.NewMemoryStore(clock)
	f.test = model.Test{ID: uuid.New(), DurationMinutes: 1}
	f.store.PutTest(f.test, []model.Question{{ID: uuid.New(), TestID: f.test.ID, CorrectAnswer: model.OptionA, Marks: 1}})

	f.mr = miniredis.RunT(t)
	f.rdb = redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { _ = f.rdb.Close() })

	f.svc = service.NewAttemptService(f.store, nil, service.AttemptServiceConfig{TickInterval: time.Hour, Now: clock}, zerolog.Nop())
	t.Cleanup(f.svc.Shutdown)
	return f
}

func (f *sweepFixture) worker(finalized prometheus.Counter) *ExpiryWorker {
	return NewExpiryWorker(f.store, f.svc, f.rdb, ExpiryConfig{
		Interval:  time.Minute,
		Grace:     5 * time.Second,
		Finalized: finalized,
		Now:       func() time.Time { return f.now },
	}, zerolog.Nop())
}

func (f *sweepFixture) abandon(t *testing.T) uuid.UUID {
	t.Helper()
	a, err := f.store.CreateAttempt(context.Background(), f.test.ID, f.userID, 1)
	require.NoError(t, err)
	return a.ID
}

func TestSweep_FinalizesExpiredAttempts(t *testing.T) {
	f := newSweepFixture(t)
	id := f.abandon(t)
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "finalized_total"})
	w := f.worker(counter)

	f.now = f.now.Add(62 * time.Second)
	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "still inside the grace period")

	f.now = f.now.Add(10 * time.Second)
	n, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))

	a, err := f.store.GetAttempt(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusTimeout, a.Status)
	assert.Equal(t, 60, *a.TimeTakenSeconds)

	assert.False(t, f.mr.Exists(config.CacheKey.ExpirySweepLockKey()), "lock released")

	n, err = w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweep_SkipsWhileLockHeldElsewhere(t *testing.T) {
	f := newSweepFixture(t)
	id := f.abandon(t)
	require.NoError(t, f.mr.Set(config.CacheKey.ExpirySweepLockKey(), "other-instance"))

	f.now = f.now.Add(2 * time.Minute)
	n, err := f.worker(nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	a, err := f.store.GetAttempt(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, a.Status)

	got, err := f.mr.Get(config.CacheKey.ExpirySweepLockKey())
	require.NoError(t, err)
	assert.Equal(t, "other-instance", got)
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := newSweepFixture(t)
	w := f.worker(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
