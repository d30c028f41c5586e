package handler

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/session"
)

// classify maps attempt engine errors to an HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	var creation *session.AttemptCreationError
	var submission *session.SubmissionError

	switch {
	case errors.As(err, &creation):
		switch {
		case errors.Is(err, session.ErrNoQuestions):
			return http.StatusUnprocessableEntity, response.ErrNoQuestions
		case errors.Is(err, session.ErrNotFound):
			return http.StatusNotFound, response.ErrNotFound
		default:
			return http.StatusInternalServerError, response.ErrAttemptCreation
		}
	case errors.As(err, &submission):
		return http.StatusInternalServerError, response.ErrSubmissionFailed
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrAttemptForbidden):
		return http.StatusForbidden, response.ErrForbidden
	case errors.Is(err, session.ErrConfirmationRequired):
		return http.StatusBadRequest, response.ErrConfirmationRequired
	case errors.Is(err, session.ErrInvalidOption):
		return http.StatusBadRequest, response.ErrInvalidOption
	case errors.Is(err, session.ErrAttemptFinalized):
		return http.StatusConflict, response.ErrAttemptFinalized
	case errors.Is(err, session.ErrSubmissionInFlight):
		return http.StatusConflict, response.ErrSubmissionInFlight
	case errors.Is(err, service.ErrAttemptNotFinalized):
		return http.StatusConflict, response.ErrAttemptNotFinalized
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
