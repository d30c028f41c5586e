package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/scoring"
	"golang.org/x/sync/singleflight"
)

// Trigger identifies what caused a submission.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerTimeout Trigger = "timeout"
)

// Submission outcomes reported to the Observer.
const (
	OutcomeSubmitted = "submitted"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Observer receives session events, typically for metrics.
type Observer interface {
	SubmissionSettled(trigger Trigger, outcome string)
	WriteFailed(op string)
}

type nopObserver struct{}

func (nopObserver) SubmissionSettled(Trigger, string) {}
func (nopObserver) WriteFailed(string)                {}

// Options configures a Controller. The zero value is usable.
type Options struct {
	Logger          zerolog.Logger
	Now             func() time.Time
	CheckpointEvery int
	Observer        Observer
	// OnFinalized receives the terminal result once, after the terminal write.
	OnFinalized func(Result)
}

// Result is the terminal outcome handed to the results view.
type Result struct {
	Attempt model.Attempt `json:"attempt"`
	Trigger Trigger       `json:"trigger"`
}

// Controller owns one attempt. It is the only component that transitions the
// attempt's status, and Submit is its single finalization entry point.
type Controller struct {
	gw          Gateway
	log         zerolog.Logger
	observer    Observer
	now         func() time.Time
	onFinalized func(Result)

	test      model.Test
	questions []model.Question

	store *ResponseStore
	timer *Timer

	mu         sync.Mutex
	attempt    model.Attempt
	current    int
	submitting bool
	result     *Result

	flight singleflight.Group
}

// StartOrResume resumes the candidate's in-progress attempt for the test, or
// creates one with a response row per question. Any failure is returned as an
// *AttemptCreationError and no session exists.
//
// When the reconciled remaining time is already zero the attempt is
// timeout-submitted before returning.
func StartOrResume(ctx context.Context, gw Gateway, testID, userID uuid.UUID, opts Options) (*Controller, error) {
	fail := func(err error) (*Controller, error) {
		return nil, &AttemptCreationError{TestID: testID, UserID: userID, Err: err}
	}

	test, err := gw.GetTest(ctx, testID)
	if err != nil {
		return fail(fmt.Errorf("get test: %w", err))
	}

	questions, err := gw.ListQuestions(ctx, testID)
	if err != nil {
		return fail(fmt.Errorf("list questions: %w", err))
	}
	if len(questions) == 0 {
		return fail(ErrNoQuestions)
	}

	attempt, err := resolveAttempt(ctx, gw, testID, userID, questions)
	if err != nil {
		return fail(err)
	}

	c, err := open(ctx, gw, *test, questions, *attempt, opts)
	if err != nil {
		return fail(err)
	}
	return c, nil
}

// Resume loads an existing attempt by id. It never creates an attempt:
// a terminal attempt yields ErrAttemptFinalized, any other failure an
// *AttemptCreationError.
func Resume(ctx context.Context, gw Gateway, attemptID uuid.UUID, opts Options) (*Controller, error) {
	attempt, err := gw.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, &AttemptCreationError{Err: fmt.Errorf("get attempt: %w", err)}
	}
	if attempt.Status.Terminal() {
		return nil, ErrAttemptFinalized
	}

	fail := func(err error) (*Controller, error) {
		if errors.Is(err, ErrAttemptNotInProgress) {
			return nil, ErrAttemptFinalized
		}
		return nil, &AttemptCreationError{TestID: attempt.TestID, UserID: attempt.UserID, Err: err}
	}

	test, err := gw.GetTest(ctx, attempt.TestID)
	if err != nil {
		return fail(fmt.Errorf("get test: %w", err))
	}
	questions, err := gw.ListQuestions(ctx, attempt.TestID)
	if err != nil {
		return fail(fmt.Errorf("list questions: %w", err))
	}
	if len(questions) == 0 {
		return fail(ErrNoQuestions)
	}

	c, err := open(ctx, gw, *test, questions, *attempt, opts)
	if err != nil {
		return fail(err)
	}
	return c, nil
}

// open hydrates a controller for an in-progress attempt. Response rows lost
// to an earlier failed allocation are allocated again before hydration, so
// an open attempt always has one row per question.
func open(ctx context.Context, gw Gateway, test model.Test, questions []model.Question, attempt model.Attempt, opts Options) (*Controller, error) {
	responses, err := gw.ListResponses(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	if len(responses) < len(questions) {
		if err := gw.BulkCreateResponses(ctx, attempt.ID, questionIDs(questions)); err != nil {
			return nil, fmt.Errorf("allocate responses: %w", err)
		}
		if responses, err = gw.ListResponses(ctx, attempt.ID); err != nil {
			return nil, fmt.Errorf("list responses: %w", err)
		}
	}

	c := newController(gw, test, questions, attempt, responses, opts)

	remaining := c.timer.Remaining()
	c.log.Info().
		Int("remaining_seconds", remaining).
		Int("answered", c.store.AnsweredCount()).
		Msg("Session started")

	if remaining == 0 {
		_ = c.expire(ctx)
	}

	return c, nil
}

func questionIDs(questions []model.Question) []uuid.UUID {
	ids := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return ids
}

func resolveAttempt(ctx context.Context, gw Gateway, testID, userID uuid.UUID, questions []model.Question) (*model.Attempt, error) {
	existing, err := gw.FindInProgressAttempt(ctx, userID, testID)
	if err != nil {
		return nil, fmt.Errorf("find in-progress attempt: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	created, err := gw.CreateAttempt(ctx, testID, userID, len(questions))
	if errors.Is(err, ErrAttemptExists) {
		// A concurrent start won the insert.
		existing, err = gw.FindInProgressAttempt(ctx, userID, testID)
		if err != nil {
			return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
		}
		if existing == nil {
			return nil, ErrAttemptExists
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	if err := gw.BulkCreateResponses(ctx, created.ID, questionIDs(questions)); err != nil {
		return nil, fmt.Errorf("allocate responses: %w", err)
	}

	return created, nil
}

func newController(gw Gateway, test model.Test, questions []model.Question, attempt model.Attempt, responses []model.Response, opts Options) *Controller {
	c := &Controller{
		gw:          gw,
		observer:    opts.Observer,
		now:         opts.Now,
		onFinalized: opts.OnFinalized,
		test:        test,
		questions:   questions,
		attempt:     attempt,
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.log = opts.Logger.With().
		Str("component", "session").
		Str("attempt_id", attempt.ID.String()).
		Str("user_id", attempt.UserID.String()).
		Str("test_id", test.ID.String()).
		Logger()

	c.store = NewResponseStore(gw, attempt.ID, questions, responses)
	c.timer = NewTimer(attempt.StartedAt, test.DurationSeconds(), c.now, opts.CheckpointEvery)
	c.timer.onCheckpoint = c.checkpoint
	c.timer.onExpire = c.expire

	return c
}

// ─── Accessors ──────────────────────────────────────────────────────────────

// AttemptID returns the attempt this controller owns.
func (c *Controller) AttemptID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt.ID
}

// Attempt returns a copy of the current attempt record.
func (c *Controller) Attempt() model.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Test returns the test being taken.
func (c *Controller) Test() model.Test {
	return c.test
}

// Questions returns the question set in display order.
func (c *Controller) Questions() []model.Question {
	return c.questions
}

// Responses returns a snapshot of the response map.
func (c *Controller) Responses() map[uuid.UUID]model.Response {
	return c.store.Snapshot()
}

// Remaining returns the reconciled remaining seconds.
func (c *Controller) Remaining() int {
	return c.timer.Remaining()
}

// Result returns the terminal result once the attempt is finalized.
func (c *Controller) Result() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return Result{}, false
	}
	return *c.result, true
}

// Done is closed when the attempt reaches a terminal status.
func (c *Controller) Done() <-chan struct{} {
	return c.timer.Done()
}

// Run drives the countdown until the attempt is finalized or ctx ends.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	c.timer.Run(ctx, interval)
}

// Tick advances the countdown by one beat.
func (c *Controller) Tick(ctx context.Context) int {
	return c.timer.Tick(ctx)
}

// ─── Actions ────────────────────────────────────────────────────────────────

// Navigate moves the active question pointer, clamped to the question range.
func (c *Controller) Navigate(index int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.guardLocked(); err != nil {
		return c.current, err
	}

	switch {
	case index < 0:
		index = 0
	case index > len(c.questions)-1:
		index = len(c.questions) - 1
	}
	c.current = index
	return c.current, nil
}

// SelectAnswer records option for the active question and recomputes its
// correctness. A *PersistenceWriteError means the answer is recorded locally
// but not yet durable; the candidate may carry on.
func (c *Controller) SelectAnswer(ctx context.Context, option model.Option) (model.Response, error) {
	if !option.Valid() {
		return model.Response{}, ErrInvalidOption
	}

	q, err := c.activeQuestion()
	if err != nil {
		return model.Response{}, err
	}

	r, _, err := c.store.Upsert(ctx, "select_answer", q.ID, func(r *model.Response) bool {
		r.Select(option, q)
		return true
	})
	if err = c.settleWrite(ctx, err); err != nil && !IsNonBlocking(err) {
		return r, err
	}

	if cerr := c.syncAnsweredCount(ctx); err == nil {
		err = cerr
	}
	return r, err
}

// ClearAnswer removes the active question's selection. Clearing an
// unanswered question is a no-op and issues no write.
func (c *Controller) ClearAnswer(ctx context.Context) (model.Response, error) {
	q, err := c.activeQuestion()
	if err != nil {
		return model.Response{}, err
	}

	r, changed, err := c.store.Upsert(ctx, "clear_answer", q.ID, func(r *model.Response) bool {
		if !r.Answered() {
			return false
		}
		r.Clear()
		return true
	})
	if err = c.settleWrite(ctx, err); err != nil && !IsNonBlocking(err) {
		return r, err
	}
	if !changed {
		return r, nil
	}

	if cerr := c.syncAnsweredCount(ctx); err == nil {
		err = cerr
	}
	return r, err
}

// ToggleReview flips the marked-for-review flag of the active question,
// independently of its selection.
func (c *Controller) ToggleReview(ctx context.Context) (model.Response, error) {
	q, err := c.activeQuestion()
	if err != nil {
		return model.Response{}, err
	}

	r, _, err := c.store.Upsert(ctx, "toggle_review", q.ID, func(r *model.Response) bool {
		r.MarkedForReview = !r.MarkedForReview
		return true
	})
	return r, c.settleWrite(ctx, err)
}

// Submit finalizes the attempt. Manual submission requires confirmed.
//
// Submit is idempotent: once the attempt is terminal every call returns the
// same result without scoring or writing again, and concurrent callers share
// one in-flight submission. A *SubmissionError leaves the attempt in progress
// and Submit may be called again.
func (c *Controller) Submit(ctx context.Context, trigger Trigger, confirmed bool) (Result, error) {
	if res, ok := c.Result(); ok {
		c.log.Debug().Str("trigger", string(trigger)).Msg("Submit ignored, attempt already finalized")
		return res, nil
	}

	if trigger == TriggerManual && !confirmed {
		return Result{}, ErrConfirmationRequired
	}

	v, err, shared := c.flight.Do("submit", func() (interface{}, error) {
		return c.finalize(ctx, trigger)
	})
	if shared {
		c.log.Debug().Str("trigger", string(trigger)).Msg("Submit joined in-flight submission")
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (c *Controller) finalize(ctx context.Context, trigger Trigger) (Result, error) {
	c.mu.Lock()
	if c.result != nil {
		res := *c.result
		c.mu.Unlock()
		return res, nil
	}
	c.submitting = true
	attempt := c.attempt
	c.mu.Unlock()

	// Sealing takes the snapshot and rejects later mutations, so the score
	// covers exactly the mutations accepted before this point.
	snapshot := c.store.Seal()
	summary := scoring.Score(c.questions, snapshot)

	timeTaken := c.timer.DurationSeconds() - c.timer.Remaining()
	if timeTaken < 0 {
		timeTaken = 0
	}

	status := model.AttemptStatusCompleted
	if trigger == TriggerTimeout {
		status = model.AttemptStatusTimeout
	}
	submittedAt := c.now()

	patch := model.AttemptPatch{
		Status:           &status,
		SubmittedAt:      &submittedAt,
		TimeTakenSeconds: &timeTaken,
		AnsweredCount:    &summary.AnsweredCount,
		CorrectCount:     &summary.CorrectCount,
		WrongCount:       &summary.WrongCount,
		MarksObtained:    &summary.MarksObtained,
		TotalMarks:       &summary.TotalMarks,
		Accuracy:         &summary.Accuracy,
	}

	err := c.gw.UpdateAttempt(ctx, attempt.ID, patch)
	switch {
	case errors.Is(err, ErrAttemptNotInProgress):
		// Another session or the expiry sweep finalized first.
		res, aerr := c.adoptTerminal(ctx)
		if aerr != nil {
			c.release()
			c.observer.SubmissionSettled(trigger, OutcomeFailed)
			return Result{}, &SubmissionError{AttemptID: attempt.ID, Trigger: trigger, Err: aerr}
		}
		c.observer.SubmissionSettled(trigger, OutcomeDuplicate)
		c.log.Info().Str("trigger", string(trigger)).Str("status", string(res.Attempt.Status)).
			Msg("Attempt was already finalized elsewhere")
		return res, nil

	case err != nil:
		c.release()
		c.observer.SubmissionSettled(trigger, OutcomeFailed)
		c.log.Error().Err(err).Str("trigger", string(trigger)).Msg("Terminal write failed")
		return Result{}, &SubmissionError{AttemptID: attempt.ID, Trigger: trigger, Err: err}
	}

	attempt.Apply(patch)
	res := Result{Attempt: attempt, Trigger: trigger}
	c.settle(res)

	c.observer.SubmissionSettled(trigger, OutcomeSubmitted)
	c.log.Info().
		Str("trigger", string(trigger)).
		Float64("marks", summary.MarksObtained).
		Int("correct", summary.CorrectCount).
		Int("wrong", summary.WrongCount).
		Int("total", summary.TotalQuestions).
		Msg("Attempt submitted and graded")

	return res, nil
}

// settle records the terminal result. Only the first call has any effect.
func (c *Controller) settle(res Result) {
	c.mu.Lock()
	if c.result != nil {
		c.mu.Unlock()
		return
	}
	c.result = &res
	c.attempt = res.Attempt
	c.submitting = false
	c.mu.Unlock()

	c.store.Seal()
	c.timer.Stop()

	if c.onFinalized != nil {
		c.onFinalized(res)
	}
}

// release reopens the session after a failed submission.
func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result != nil {
		return
	}
	c.submitting = false
	c.store.Unseal()
}

// adoptTerminal loads the stored record after the gateway reported the
// attempt is no longer in progress.
func (c *Controller) adoptTerminal(ctx context.Context) (Result, error) {
	stored, err := c.gw.GetAttempt(ctx, c.AttemptID())
	if err != nil {
		return Result{}, fmt.Errorf("load finalized attempt: %w", err)
	}
	if !stored.Status.Terminal() {
		return Result{}, fmt.Errorf("write rejected but attempt status is %s", stored.Status)
	}

	trigger := TriggerManual
	if stored.Status == model.AttemptStatusTimeout {
		trigger = TriggerTimeout
	}
	res := Result{Attempt: *stored, Trigger: trigger}
	c.settle(res)

	got, _ := c.Result()
	return got, nil
}

func (c *Controller) expire(ctx context.Context) error {
	if _, err := c.Submit(ctx, TriggerTimeout, false); err != nil {
		c.log.Error().Err(err).Msg("Timeout submission failed")
		return err
	}
	return nil
}

func (c *Controller) checkpoint(ctx context.Context, elapsed int) {
	c.mu.Lock()
	busy := c.submitting || c.result != nil
	c.mu.Unlock()
	if busy {
		return
	}

	err := c.gw.UpdateAttempt(ctx, c.AttemptID(), model.AttemptPatch{TimeTakenSeconds: &elapsed})
	if err != nil {
		_ = c.settleWrite(ctx, &PersistenceWriteError{Op: "checkpoint", Err: err})
		return
	}

	c.mu.Lock()
	c.attempt.TimeTakenSeconds = &elapsed
	c.mu.Unlock()
}

// syncAnsweredCount derives answered_count by scanning the store and writes it
// to the attempt as a best-effort side write.
func (c *Controller) syncAnsweredCount(ctx context.Context) error {
	n := c.store.AnsweredCount()

	c.mu.Lock()
	c.attempt.AnsweredCount = n
	id := c.attempt.ID
	c.mu.Unlock()

	if err := c.gw.UpdateAttempt(ctx, id, model.AttemptPatch{AnsweredCount: &n}); err != nil {
		return c.settleWrite(ctx, &PersistenceWriteError{Op: "answered_count", Err: err})
	}
	return nil
}

// settleWrite classifies a mutation error.
func (c *Controller) settleWrite(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, errStoreSealed) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.result != nil {
			return ErrAttemptFinalized
		}
		return ErrSubmissionInFlight
	}

	if errors.Is(err, ErrAttemptNotInProgress) {
		if _, aerr := c.adoptTerminal(ctx); aerr != nil {
			c.log.Error().Err(aerr).Msg("Failed to load attempt finalized elsewhere")
		}
		return ErrAttemptFinalized
	}

	var pwe *PersistenceWriteError
	if errors.As(err, &pwe) {
		c.observer.WriteFailed(pwe.Op)
		ev := c.log.Warn().Err(pwe.Err).Str("op", pwe.Op)
		if pwe.QuestionID != uuid.Nil {
			ev = ev.Str("question_id", pwe.QuestionID.String())
		}
		ev.Msg("Persistence write failed, keeping local state")
	}
	return err
}

func (c *Controller) activeQuestion() (model.Question, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guardLocked(); err != nil {
		return model.Question{}, err
	}
	return c.questions[c.current], nil
}

func (c *Controller) guardLocked() error {
	if c.result != nil {
		return ErrAttemptFinalized
	}
	if c.submitting {
		return ErrSubmissionInFlight
	}
	return nil
}
