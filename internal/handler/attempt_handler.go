package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
)

// AttemptHandler handles the student-facing attempt endpoints.
type AttemptHandler struct {
	attempts *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attempts: attempts}
}

// StartExam godoc
// POST /api/v1/student/exams/:exam_id/attempts
// Starts a new attempt or resumes the active one. 201 on start, 200 on resume.
func (h *AttemptHandler) StartExam(c *gin.Context) {
	studentID, err := middleware.CurrentStudent(c)
	if err != nil {
		fail(c, err)
		return
	}

	var uri model.ExamURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	view, err := h.attempts.StartOrResume(c.Request.Context(), uuid.MustParse(uri.ExamID), studentID)
	if err != nil {
		fail(c, err)
		return
	}

	status := http.StatusCreated
	if view.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, view)
}

// SubmitAnswer godoc
// POST /api/v1/student/attempts/:attempt_id/answers
// Saves the latest answer to one question.
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	attemptID, ok := h.ownedAttempt(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.attempts.RecordAnswer(c.Request.Context(), attemptID, uuid.MustParse(req.QuestionID), req.Payload())
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"ack": true})
}

// SubmitExam godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Finalizes the attempt and returns the score. Safe to retry.
func (h *AttemptHandler) SubmitExam(c *gin.Context) {
	attemptID, ok := h.ownedAttempt(c)
	if !ok {
		return
	}

	result, err := h.attempts.Finalize(c.Request.Context(), attemptID, model.TriggerStudentSubmit)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// AttemptStatus godoc
// GET /api/v1/student/attempts/:attempt_id
// Returns the attempt status and the server-computed remaining time.
func (h *AttemptHandler) AttemptStatus(c *gin.Context) {
	studentID, err := middleware.CurrentStudent(c)
	if err != nil {
		fail(c, err)
		return
	}
	attemptID, ok := bindAttemptID(c)
	if !ok {
		return
	}

	status, err := h.attempts.GetStatus(c.Request.Context(), attemptID)
	if err != nil {
		fail(c, err)
		return
	}
	if status.StudentID != studentID {
		fail(c, service.ErrNotAttemptOwner)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// ownedAttempt resolves :attempt_id and checks the caller owns it.
// It writes the error response itself and returns false on failure.
func (h *AttemptHandler) ownedAttempt(c *gin.Context) (uuid.UUID, bool) {
	studentID, err := middleware.CurrentStudent(c)
	if err != nil {
		fail(c, err)
		return uuid.Nil, false
	}
	attemptID, ok := bindAttemptID(c)
	if !ok {
		return uuid.Nil, false
	}
	if err := h.attempts.AuthorizeAttempt(c.Request.Context(), attemptID, studentID); err != nil {
		fail(c, err)
		return uuid.Nil, false
	}
	return attemptID, true
}

func bindAttemptID(c *gin.Context) (uuid.UUID, bool) {
	var uri model.AttemptURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return uuid.Nil, false
	}
	return uuid.MustParse(uri.AttemptID), true
}
