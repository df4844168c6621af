package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/veritest/veritest-backend/internal/middleware"
	"github.com/veritest/veritest-backend/internal/model"
	"github.com/veritest/veritest-backend/internal/response"
	"github.com/veritest/veritest-backend/internal/service"
	"github.com/veritest/veritest-backend/internal/validator"
)

// AttemptHandler handles the attempt lifecycle endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
	statsService   *service.StatsService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, statsService *service.StatsService) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		statsService:   statsService,
	}
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempts
// Starts a new attempt or resumes the student's in-progress one.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.StartAttempt(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusForbidden, response.ErrExamNotAvailable)
		case errors.Is(err, service.ErrAttemptLimitExceeded):
			response.Fail(c, http.StatusConflict, response.ErrAttemptLimitExceeded)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"attempt": attempt})
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:attempt_id
// Returns the student's own attempt, redacted per the exam's visibility flags.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID, claims.UserID, false)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ListMyAttempts godoc
// GET /api/v1/student/attempts
// Lists the student's attempts across exams, newest first.
func (h *AttemptHandler) ListMyAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.attemptService.ListAttempts(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// RecordAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/answers/:question_id
// Validates, scores and stores one answer. Overwrites any previous answer
// for the same question.
func (h *AttemptHandler) RecordAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	questionID, err := uuid.Parse(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer, err := h.attemptService.RecordAnswer(c.Request.Context(), attemptID, claims.UserID, questionID, &req)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	// Correctness is not revealed mid-attempt.
	response.Success(c, http.StatusOK, gin.H{
		"question_id": answer.QuestionID,
		"is_answered": answer.IsAnswered,
	})
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Finalizes an attempt. Idempotent: a repeated submit returns the already
// finalized attempt.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.Finalize(c.Request.Context(), attemptID, claims.UserID, model.AttemptStatusSubmitted)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	// Standings changed; the next leaderboard read rebuilds.
	h.statsService.InvalidateLeaderboard(c.Request.Context(), attempt.ExamID)

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// ReportViolation godoc
// POST /api/v1/student/attempts/:attempt_id/violations
// Records one proctoring violation on an in-progress attempt.
func (h *AttemptHandler) ReportViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err = h.attemptService.RecordViolation(c.Request.Context(), attemptID, claims.UserID,
		model.ViolationKind(req.Kind), req.Detail)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "recorded"})
}

// GetAttemptAdmin godoc
// GET /api/v1/admin/attempts/:attempt_id
// Returns any attempt unredacted.
func (h *AttemptHandler) GetAttemptAdmin(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.GetAttempt(c.Request.Context(), attemptID, 0, true)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// DisqualifyAttempt godoc
// POST /api/v1/admin/attempts/:attempt_id/disqualify
// Abandons an in-progress attempt after proctoring review. ?force=true
// skips the violation threshold check.
func (h *AttemptHandler) DisqualifyAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	force := c.Query("force") == "true"

	attempt, err := h.attemptService.Disqualify(c.Request.Context(), attemptID, force)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		case errors.Is(err, service.ErrAttemptNotInProgress):
			response.Fail(c, http.StatusConflict, response.ErrAttemptNotInProgress)
		default:
			response.Fail(c, http.StatusBadRequest, response.ErrConflict)
		}
		return
	}

	h.statsService.InvalidateLeaderboard(c.Request.Context(), attempt.ExamID)

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// failAttemptError maps attempt lifecycle errors onto HTTP responses.
func failAttemptError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrNotOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotOwner)
	case errors.Is(err, service.ErrAttemptNotInProgress):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotInProgress)
	case errors.Is(err, service.ErrQuestionNotInAttempt):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionNotInAttempt)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
