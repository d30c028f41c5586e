package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/session"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultSweepBatch    = 100
)

// ExpiredLister finds open attempts whose time has run out.
type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]repository.ExpiredAttempt, error)
}

// Expirer timeout-submits one attempt.
type Expirer interface {
	Expire(ctx context.Context, attemptID, userID, testID uuid.UUID) (session.Result, error)
}

// ExpiryConfig tunes the sweep.
type ExpiryConfig struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
	// Finalized counts attempts the sweep finalized when set.
	Finalized prometheus.Counter
	Now       func() time.Time
}

// ExpiryWorker finalizes attempts nobody is driving any more: the candidate
// closed the tab, or the instance holding the session went away. Only one
// instance sweeps at a time, and the terminal write stays conditional, so a
// live session racing the sweep still finalizes exactly once.
type ExpiryWorker struct {
	lister  ExpiredLister
	expirer Expirer
	rdb     *redis.Client
	log     zerolog.Logger
	cfg     ExpiryConfig
	owner   string
}

func NewExpiryWorker(lister ExpiredLister, expirer Expirer, rdb *redis.Client, cfg ExpiryConfig, log zerolog.Logger) *ExpiryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatch
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ExpiryWorker{
		lister:  lister,
		expirer: expirer,
		rdb:     rdb,
		log:     log.With().Str("component", "expiry_worker").Logger(),
		cfg:     cfg,
		owner:   uuid.NewString(),
	}
}

// ----------------------------------------------------------------
// Worker loop
// ----------------------------------------------------------------

func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.cfg.Interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Expiry sweep failed")
			}
		}
	}
}

// Sweep finalizes one batch of expired attempts and returns how many it
// finalized. It does nothing while another instance holds the sweep lock.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int, error) {
	acquired, err := w.lock(ctx)
	if err != nil {
		return 0, err
	}
	if !acquired {
		w.log.Debug().Msg("Sweep lock held elsewhere, skipping")
		return 0, nil
	}
	defer w.unlock(context.Background())

	expired, err := w.lister.ListExpired(ctx, w.cfg.Now(), w.cfg.Grace, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, e := range expired {
		res, err := w.expirer.Expire(ctx, e.ID, e.UserID, e.TestID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return finalized, err
			}
			w.log.Error().Err(err).Str("attempt_id", e.ID.String()).Msg("Failed to expire attempt")
			continue
		}

		finalized++
		if w.cfg.Finalized != nil {
			w.cfg.Finalized.Inc()
		}
		w.log.Info().
			Str("attempt_id", e.ID.String()).
			Str("status", string(res.Attempt.Status)).
			Msg("Expired attempt finalized")
	}

	return finalized, nil
}

// ----------------------------------------------------------------
// Redis sweep lock
// ----------------------------------------------------------------

var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (w *ExpiryWorker) lock(ctx context.Context) (bool, error) {
	if w.rdb == nil {
		return true, nil
	}
	ttl := w.cfg.Interval * 2
	return w.rdb.SetNX(ctx, config.CacheKey.ExpirySweepLockKey(), w.owner, ttl).Result()
}

func (w *ExpiryWorker) unlock(ctx context.Context) {
	if w.rdb == nil {
		return
	}
	if err := releaseLock.Run(ctx, w.rdb, []string{config.CacheKey.ExpirySweepLockKey()}, w.owner).Err(); err != nil {
		w.log.Warn().Err(err).Msg("Failed to release sweep lock")
	}
}
