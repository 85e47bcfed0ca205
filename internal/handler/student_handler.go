package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/engine"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/middleware"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/response"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/service"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/validator"
)

// StudentHandler handles student-facing attempt endpoints: entry, paper
// download, state reload, submit and the violation fallback.
type StudentHandler struct {
	attemptService    *service.AttemptService
	assessmentService *service.AssessmentService
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(
	attemptService *service.AttemptService,
	assessmentService *service.AssessmentService,
) *StudentHandler {
	return &StudentHandler{
		attemptService:    attemptService,
		assessmentService: assessmentService,
	}
}

// EnterAttempt godoc
// POST /api/v1/student/assessments/:assessment_id/attempts
// Creates the attempt on first entry or rehydrates it on re-entry
// (idempotent). An expired deadline finalizes immediately.
func (h *StudentHandler) EnterAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.attemptService.Enter(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		if errors.Is(err, engine.ErrAssessmentNotAvailable) {
			response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotAvailable)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	response.Success(c, status, result)
}

// GetPaper godoc
// GET /api/v1/student/assessments/:assessment_id/paper
// Returns the question payload from Redis (bypasses PostgreSQL) plus the
// attempt's realized question order.
// SECURITY: Requires an active attempt for this assessment — prevents IDOR.
func (h *StudentHandler) GetPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attemptService.Get(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		if errors.Is(err, engine.ErrAttemptNotFound) {
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if attempt.Submitted() {
		response.Fail(c, http.StatusConflict, response.ErrAttemptSubmitted)
		return
	}

	payload, err := h.assessmentService.GetPayload(c.Request.Context(), assessmentID)
	if err != nil {
		if errors.Is(err, engine.ErrAssessmentNotAvailable) {
			response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotAvailable)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"paper":          payload,
		"question_order": attempt.QuestionOrder,
	})
}

// GetState godoc
// GET /api/v1/student/assessments/:assessment_id/attempts/state
// The reload path: merged answers plus server-anchored remaining time.
func (h *StudentHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	view, err := h.attemptService.GetState(c.Request.Context(), assessmentID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		case errors.Is(err, engine.ErrAssessmentNotAvailable):
			response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": view})
}

// SubmitAttempt godoc
// POST /api/v1/student/assessments/:assessment_id/attempts/submit
// Explicit submit. Idempotent: re-submitting returns the stored terminal
// state without modifying it.
func (h *StudentHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.attemptService.Submit(c.Request.Context(), assessmentID, claims.UserID, req.Answers)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		case errors.Is(err, engine.ErrAssessmentNotAvailable):
			response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrSubmitFailed)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": view})
}

// ReportViolation godoc
// POST /api/v1/student/assessments/:assessment_id/attempts/violations
// HTTP fallback for proctoring events when the WebSocket stream is down.
func (h *StudentHandler) ReportViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ViolationReport
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	count, forced, err := h.attemptService.ReportViolation(c.Request.Context(), assessmentID, claims.UserID, &req)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotProctored):
			response.Fail(c, http.StatusBadRequest, response.ErrNotProctored)
		case errors.Is(err, engine.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		case errors.Is(err, engine.ErrAssessmentNotAvailable):
			response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"violation_count": count,
		"force_submitted": forced,
	})
}
