package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{fmt.Errorf("get attempt: %w", service.ErrAttemptNotFound), http.StatusNotFound, response.ErrAttemptNotFound},
		{service.ErrAttemptNotActive, http.StatusConflict, response.ErrAttemptNotActive},
		{service.ErrAttemptLimitReached, http.StatusConflict, response.ErrAttemptLimitReached},
		{service.ErrAttemptNotAllowed, http.StatusForbidden, response.ErrAttemptNotAllowed},
		{service.ErrIncompleteSubmission, http.StatusUnprocessableEntity, response.ErrIncompleteSubmission},
		{fmt.Errorf("%w: token expired", service.ErrUnauthenticated), http.StatusUnauthorized, response.ErrTokenInvalid},
		{fmt.Errorf("claim: %w: %w", service.ErrTransientStorage, errors.New("conn reset")), http.StatusServiceUnavailable, response.ErrStorageUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}

func TestFailSetsRetryAfterOnStorageErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	fail(c, fmt.Errorf("save: %w", service.ErrTransientStorage))

	if w.Code != http.StatusServiceUnavailable || w.Header().Get("Retry-After") != "2" {
		t.Errorf("status %d, retry-after %q", w.Code, w.Header().Get("Retry-After"))
	}
}
