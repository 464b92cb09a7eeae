package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// AdminAttemptHandler lets administrators inspect and abandon attempts.
type AdminAttemptHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
}

// NewAdminAttemptHandler creates a new AdminAttemptHandler.
func NewAdminAttemptHandler(attempts *service.AttemptService, log zerolog.Logger) *AdminAttemptHandler {
	return &AdminAttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "admin_attempt_handler").Logger(),
	}
}

// GetAttempt godoc
// GET /api/v1/admin/attempts/:attempt_id
func (h *AdminAttemptHandler) GetAttempt(c *gin.Context) {
	attemptID, ok := bindAttemptID(c)
	if !ok {
		return
	}

	status, err := h.attempts.GetStatus(c.Request.Context(), attemptID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"student_id": status.StudentID,
		"attempt":    status,
	})
}

// AbandonAttempt godoc
// POST /api/v1/admin/attempts/:attempt_id/abandon
// Ends an in-progress attempt as ABANDONED. Attempts already finalized keep their status.
func (h *AdminAttemptHandler) AbandonAttempt(c *gin.Context) {
	attemptID, ok := bindAttemptID(c)
	if !ok {
		return
	}

	result, err := h.attempts.Abandon(c.Request.Context(), attemptID)
	if err != nil {
		fail(c, err)
		return
	}

	adminID := 0
	if claims := middleware.GetClaims(c); claims != nil {
		adminID = claims.UserID
	}
	h.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("admin_id", adminID).
		Str("status", string(result.Status)).
		Msg("Abandon requested")

	response.Success(c, http.StatusOK, result)
}
