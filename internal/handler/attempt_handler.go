package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/session"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// AttemptHandler exposes the attempt session actions over HTTP.
type AttemptHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// SubmissionView is returned by submit.
type SubmissionView struct {
	Attempt model.Attempt   `json:"attempt"`
	Trigger session.Trigger `json:"trigger"`
}

// Start godoc
// POST /api/v1/tests/:test_id/attempts
// Starts the candidate's attempt or resumes the open one.
func (h *AttemptHandler) Start(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctrl, err := h.attemptService.Start(c.Request.Context(), testID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"state": ctrl.State()})
}

// State godoc
// GET /api/v1/attempts/:attempt_id/state
// Returns the palette, counts and reconciled remaining time.
func (h *AttemptHandler) State(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": ctrl.State()})
}

// Navigate godoc
// PUT /api/v1/attempts/:attempt_id/navigate
func (h *AttemptHandler) Navigate(c *gin.Context) {
	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctrl, ok := h.session(c)
	if !ok {
		return
	}

	if _, err := ctrl.Navigate(*req.Index); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"state": ctrl.State()})
}

// Answer godoc
// PUT /api/v1/attempts/:attempt_id/answer
// Selects an option for the active question.
func (h *AttemptHandler) Answer(c *gin.Context) {
	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	option, err := model.ParseOption(req.Option)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidOption)
		return
	}

	ctrl, ok := h.session(c)
	if !ok {
		return
	}

	_, err = ctrl.SelectAnswer(c.Request.Context(), option)
	h.respondAction(c, ctrl, err)
}

// Clear godoc
// DELETE /api/v1/attempts/:attempt_id/answer
func (h *AttemptHandler) Clear(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}

	_, err := ctrl.ClearAnswer(c.Request.Context())
	h.respondAction(c, ctrl, err)
}

// Review godoc
// POST /api/v1/attempts/:attempt_id/review
// Toggles the marked-for-review flag of the active question.
func (h *AttemptHandler) Review(c *gin.Context) {
	ctrl, ok := h.session(c)
	if !ok {
		return
	}

	_, err := ctrl.ToggleReview(c.Request.Context())
	h.respondAction(c, ctrl, err)
}

// Submit godoc
// POST /api/v1/attempts/:attempt_id/submit
// Manually submits the attempt. Requires {"confirm": true}.
func (h *AttemptHandler) Submit(c *gin.Context) {
	userID, attemptID, ok := h.identify(c)
	if !ok {
		return
	}

	// An empty body is an unconfirmed submit, not a malformed one.
	var req model.SubmitRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	res, err := h.attemptService.Submit(c.Request.Context(), attemptID, userID, session.TriggerManual, req.Confirm)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, SubmissionView{Attempt: res.Attempt, Trigger: res.Trigger})
}

// Result godoc
// GET /api/v1/attempts/:attempt_id/result
// Returns the scored attempt with answer keys. Only available once terminal.
func (h *AttemptHandler) Result(c *gin.Context) {
	userID, attemptID, ok := h.identify(c)
	if !ok {
		return
	}

	view, err := h.attemptService.Result(c.Request.Context(), attemptID, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

func (h *AttemptHandler) identify(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, attemptID, true
}

func (h *AttemptHandler) session(c *gin.Context) (*session.Controller, bool) {
	userID, attemptID, ok := h.identify(c)
	if !ok {
		return nil, false
	}

	ctrl, err := h.attemptService.Session(c.Request.Context(), attemptID, userID)
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return ctrl, true
}

// respondAction reports the state after a response mutation. A failed
// best-effort write is returned as a warning, never as a failure.
func (h *AttemptHandler) respondAction(c *gin.Context, ctrl *session.Controller, err error) {
	switch {
	case err == nil:
		response.Success(c, http.StatusOK, gin.H{"state": ctrl.State()})
	case session.IsNonBlocking(err):
		h.log.Warn().Err(err).Str("attempt_id", ctrl.AttemptID().String()).Msg("Response change not persisted")
		response.SuccessWithWarning(c, http.StatusOK, gin.H{"state": ctrl.State()}, response.ErrPersistenceDelayed)
	default:
		h.fail(c, err)
	}
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().
			Err(err).
			Str("component", "attempt_handler").
			Str("path", c.FullPath()).
			Msg("Attempt request failed")
	}
	response.Fail(c, status, code)
}
