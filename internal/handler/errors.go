package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// storageRetryAfter is advertised to clients when storage is temporarily unavailable.
const storageRetryAfter = 2 * time.Second

// classify maps a service error onto an HTTP status and API error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, response.ErrTokenInvalid
	case errors.Is(err, service.ErrNotAttemptOwner):
		return http.StatusForbidden, response.ErrNotAttemptOwner
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrAttemptNotFound
	case errors.Is(err, service.ErrAttemptNotAllowed):
		return http.StatusForbidden, response.ErrAttemptNotAllowed
	case errors.Is(err, service.ErrAttemptLimitReached):
		return http.StatusConflict, response.ErrAttemptLimitReached
	case errors.Is(err, service.ErrAttemptNotActive):
		return http.StatusConflict, response.ErrAttemptNotActive
	case errors.Is(err, service.ErrInvalidQuestion):
		return http.StatusBadRequest, response.ErrInvalidQuestion
	case errors.Is(err, service.ErrInvalidAnswer):
		return http.StatusBadRequest, response.ErrInvalidAnswer
	case errors.Is(err, service.ErrIncompleteSubmission):
		return http.StatusUnprocessableEntity, response.ErrIncompleteSubmission
	case errors.Is(err, service.ErrTransientStorage):
		return http.StatusServiceUnavailable, response.ErrStorageUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// fail writes the error response for err. Unexpected errors are logged with the
// request-scoped logger.
func fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	if status == http.StatusServiceUnavailable {
		response.FailRetryable(c, status, code, storageRetryAfter)
		return
	}
	response.Fail(c, status, code)
}
