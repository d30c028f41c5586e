package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/scoring"
	"github.com/stemsi/exstem-attempt/internal/session"
	"golang.org/x/sync/singleflight"
)

// Attempt access errors.
var (
	ErrAttemptForbidden    = errors.New("attempt belongs to another candidate")
	ErrAttemptNotFinalized = errors.New("attempt has not been submitted yet")
)

// Store is the durable store behind the attempt service.
type Store interface {
	session.Gateway
	SubjectNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

// AttemptServiceConfig tunes the live session engine.
type AttemptServiceConfig struct {
	TickInterval    time.Duration
	CheckpointEvery int
	Observer        session.Observer
	// LiveSessions tracks the registry size when set.
	LiveSessions prometheus.Gauge
	Now          func() time.Time
}

type liveSession struct {
	ctrl   *session.Controller
	userID uuid.UUID
	testID uuid.UUID
}

type ownerKey struct {
	userID uuid.UUID
	testID uuid.UUID
}

// AttemptService owns the live attempt sessions of this instance. Each live
// session has one goroutine driving its countdown; the registry lets any
// request or socket find the controller for an attempt.
type AttemptService struct {
	store Store
	rdb   *redis.Client
	log   zerolog.Logger
	cfg   AttemptServiceConfig

	mu      sync.Mutex
	live    map[uuid.UUID]*liveSession
	byOwner map[ownerKey]uuid.UUID

	starts singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAttemptService creates a new AttemptService. rdb may be nil, in which
// case finalized events are not broadcast.
func NewAttemptService(store Store, rdb *redis.Client, cfg AttemptServiceConfig, log zerolog.Logger) *AttemptService {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AttemptService{
		store:   store,
		rdb:     rdb,
		log:     log.With().Str("component", "attempt_service").Logger(),
		cfg:     cfg,
		live:    make(map[uuid.UUID]*liveSession),
		byOwner: make(map[ownerKey]uuid.UUID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts or resumes the candidate's attempt on a test. The returned
// controller may already be finalized when the time ran out while away.
func (s *AttemptService) Start(ctx context.Context, testID, userID uuid.UUID) (*session.Controller, error) {
	if ctrl := s.lookupOwner(userID, testID); ctrl != nil {
		return ctrl, nil
	}

	key := userID.String() + ":" + testID.String()
	v, err, _ := s.starts.Do(key, func() (interface{}, error) {
		if ctrl := s.lookupOwner(userID, testID); ctrl != nil {
			return ctrl, nil
		}

		ctrl, err := session.StartOrResume(ctx, s.store, testID, userID, s.sessionOptions())
		if err != nil {
			return nil, err
		}
		if _, done := ctrl.Result(); !done {
			ctrl = s.register(ctrl, userID, testID)
		}
		return ctrl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Controller), nil
}

// Session returns the live controller for an attempt owned by userID,
// resuming it from the store when this instance does not hold it.
// Terminal attempts yield session.ErrAttemptFinalized.
func (s *AttemptService) Session(ctx context.Context, attemptID, userID uuid.UUID) (*session.Controller, error) {
	s.mu.Lock()
	ls, ok := s.live[attemptID]
	s.mu.Unlock()
	if ok {
		if ls.userID != userID {
			return nil, ErrAttemptForbidden
		}
		if _, done := ls.ctrl.Result(); done {
			return nil, session.ErrAttemptFinalized
		}
		return ls.ctrl, nil
	}

	a, err := s.ownedAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, session.ErrAttemptFinalized
	}

	return s.resume(ctx, attemptID, userID, a.TestID)
}

// Submit finalizes an attempt. Submitting an attempt that is already
// terminal returns its stored result, even when this instance never held it.
func (s *AttemptService) Submit(ctx context.Context, attemptID, userID uuid.UUID, trigger session.Trigger, confirmed bool) (session.Result, error) {
	ctrl, err := s.Session(ctx, attemptID, userID)
	if errors.Is(err, session.ErrAttemptFinalized) {
		a, gerr := s.ownedAttempt(ctx, attemptID, userID)
		if gerr != nil {
			return session.Result{}, gerr
		}
		return resultOf(*a), nil
	}
	if err != nil {
		return session.Result{}, err
	}
	return ctrl.Submit(ctx, trigger, confirmed)
}

// Expire timeout-submits an abandoned attempt. It reuses the live controller
// when present; otherwise it resumes from durable responses, which submits
// immediately because no time is left.
func (s *AttemptService) Expire(ctx context.Context, attemptID, userID, testID uuid.UUID) (session.Result, error) {
	s.mu.Lock()
	ls, ok := s.live[attemptID]
	s.mu.Unlock()
	if ok {
		return ls.ctrl.Submit(ctx, session.TriggerTimeout, false)
	}

	ctrl, err := s.resume(ctx, attemptID, userID, testID)
	if errors.Is(err, session.ErrAttemptFinalized) {
		// Finalized elsewhere after the sweep listed it.
		a, gerr := s.store.GetAttempt(ctx, attemptID)
		if gerr != nil {
			return session.Result{}, gerr
		}
		return resultOf(*a), nil
	}
	if err != nil {
		return session.Result{}, err
	}
	if res, done := ctrl.Result(); done {
		return res, nil
	}
	return ctrl.Submit(ctx, session.TriggerTimeout, false)
}

// resume loads a known attempt into the registry. It never creates an attempt.
func (s *AttemptService) resume(ctx context.Context, attemptID, userID, testID uuid.UUID) (*session.Controller, error) {
	v, err, _ := s.starts.Do("resume:"+attemptID.String(), func() (interface{}, error) {
		s.mu.Lock()
		ls, ok := s.live[attemptID]
		s.mu.Unlock()
		if ok {
			if _, done := ls.ctrl.Result(); done {
				return nil, session.ErrAttemptFinalized
			}
			return ls.ctrl, nil
		}

		ctrl, err := session.Resume(ctx, s.store, attemptID, s.sessionOptions())
		if err != nil {
			return nil, err
		}
		if _, done := ctrl.Result(); !done {
			ctrl = s.register(ctrl, userID, testID)
		}
		return ctrl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Controller), nil
}

// QuestionResult pairs a question, answer key included, with the candidate's response.
type QuestionResult struct {
	model.Question
	Response model.Response `json:"response"`
}

// ResultView is the read-only results hand-off for a finalized attempt.
type ResultView struct {
	Attempt   model.Attempt              `json:"attempt"`
	Test      model.Test                 `json:"test"`
	Questions []QuestionResult           `json:"questions"`
	Subjects  []scoring.SubjectBreakdown `json:"subjects"`
}

// Result builds the results view. It never mutates the attempt.
func (s *AttemptService) Result(ctx context.Context, attemptID, userID uuid.UUID) (*ResultView, error) {
	a, err := s.ownedAttempt(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if !a.Status.Terminal() {
		return nil, ErrAttemptNotFinalized
	}

	test, err := s.store.GetTest(ctx, a.TestID)
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	questions, err := s.store.ListQuestions(ctx, a.TestID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	rows, err := s.store.ListResponses(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}

	responses := make(map[uuid.UUID]model.Response, len(rows))
	for _, r := range rows {
		responses[r.QuestionID] = r
	}

	view := &ResultView{
		Attempt:   *a,
		Test:      *test,
		Questions: make([]QuestionResult, len(questions)),
		Subjects:  scoring.BreakdownBySubject(questions, responses),
	}

	var subjectIDs []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for i, q := range questions {
		r, ok := responses[q.ID]
		if !ok {
			r = model.Response{AttemptID: attemptID, QuestionID: q.ID}
		}
		view.Questions[i] = QuestionResult{Question: q, Response: r}
		if q.SubjectID != nil && !seen[*q.SubjectID] {
			seen[*q.SubjectID] = true
			subjectIDs = append(subjectIDs, *q.SubjectID)
		}
	}

	names, err := s.store.SubjectNames(ctx, subjectIDs)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to resolve subject names, falling back to ids")
		return view, nil
	}
	for i := range view.Subjects {
		id, err := uuid.Parse(view.Subjects[i].Subject)
		if err != nil {
			continue
		}
		if name, ok := names[id]; ok {
			view.Subjects[i].Subject = name
		}
	}

	return view, nil
}

// LiveCount returns the number of sessions this instance drives.
func (s *AttemptService) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown stops every countdown goroutine. Attempts stay in progress and are
// picked up again by the next resume or the expiry sweep.
func (s *AttemptService) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

func (s *AttemptService) sessionOptions() session.Options {
	return session.Options{
		Logger:          s.log,
		Now:             s.cfg.Now,
		CheckpointEvery: s.cfg.CheckpointEvery,
		Observer:        s.cfg.Observer,
		OnFinalized:     s.onFinalized,
	}
}

func (s *AttemptService) lookupOwner(userID, testID uuid.UUID) *session.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOwner[ownerKey{userID, testID}]
	if !ok {
		return nil
	}
	ctrl := s.live[id].ctrl
	if _, done := ctrl.Result(); done {
		return nil
	}
	return ctrl
}

func (s *AttemptService) ownedAttempt(ctx context.Context, attemptID, userID uuid.UUID) (*model.Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrAttemptForbidden
	}
	return a, nil
}

// register starts the countdown of ctrl and returns it. When a start and a
// resume race for the same attempt, the controller registered first wins and
// the other is dropped before it ever runs.
func (s *AttemptService) register(ctrl *session.Controller, userID, testID uuid.UUID) *session.Controller {
	id := ctrl.AttemptID()

	s.mu.Lock()
	if ls, ok := s.live[id]; ok {
		s.mu.Unlock()
		return ls.ctrl
	}
	s.live[id] = &liveSession{ctrl: ctrl, userID: userID, testID: testID}
	s.byOwner[ownerKey{userID, testID}] = id
	s.mu.Unlock()

	if s.cfg.LiveSessions != nil {
		s.cfg.LiveSessions.Inc()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctrl.Run(s.ctx, s.cfg.TickInterval)
		s.unregister(id)
	}()
	return ctrl
}

func (s *AttemptService) unregister(attemptID uuid.UUID) {
	s.mu.Lock()
	ls, ok := s.live[attemptID]
	if ok {
		delete(s.live, attemptID)
		delete(s.byOwner, ownerKey{ls.userID, ls.testID})
	}
	s.mu.Unlock()

	if ok && s.cfg.LiveSessions != nil {
		s.cfg.LiveSessions.Dec()
	}
}

func (s *AttemptService) onFinalized(res session.Result) {
	if s.rdb == nil {
		return
	}

	payload, err := json.Marshal(model.AttemptEvent{
		Type:      model.AttemptEventFinalized,
		AttemptID: res.Attempt.ID,
		Status:    res.Attempt.Status,
		Trigger:   string(res.Trigger),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	channel := config.CacheKey.AttemptEventsChannel(res.Attempt.ID.String())
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", res.Attempt.ID.String()).Msg("Failed to publish finalized event")
	}
}

// Subscribe listens for lifecycle events of one attempt across instances.
// The returned channel closes when ctx ends.
func (s *AttemptService) Subscribe(ctx context.Context, attemptID uuid.UUID) <-chan model.AttemptEvent {
	out := make(chan model.AttemptEvent, 1)
	if s.rdb == nil {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out
	}

	pubsub := s.rdb.Subscribe(ctx, config.CacheKey.AttemptEventsChannel(attemptID.String()))
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to subscribe to attempt events")
	}
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev model.AttemptEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func resultOf(a model.Attempt) session.Result {
	trigger := session.TriggerManual
	if a.Status == model.AttemptStatusTimeout {
		trigger = session.TriggerTimeout
	}
	return session.Result{Attempt: a, Trigger: trigger}
}
