package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/config"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/engine"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/middleware"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/response"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler serves the proctor dashboard: a progress snapshot endpoint
// and a live SSE stream fed by the assessment's Redis pub/sub channel.
type MonitorHandler struct {
	rdb               *redis.Client
	assessmentService *service.AssessmentService
	monitorService    *service.MonitorService
	log               zerolog.Logger
}

func NewMonitorHandler(
	rdb *redis.Client,
	assessmentService *service.AssessmentService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:               rdb,
		assessmentService: assessmentService,
		monitorService:    monitorService,
		log:               log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetProgress godoc
// GET /api/v1/monitor/assessments/:assessment_id/progress
// One-shot snapshot: in-progress students, answered counts, violation counts.
func (h *MonitorHandler) GetProgress(c *gin.Context) {
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

	assessment, questions, err := h.assessmentService.GetDefinition(c.Request.Context(), assessmentID)
	if err != nil {
		if errors.Is(err, engine.ErrAssessmentNotAvailable) {
			response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotAvailable)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	progress, err := h.monitorService.GetStudentProgress(c.Request.Context(), assessmentID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"assessment": gin.H{
			"id":              assessment.ID.String(),
			"title":           assessment.Title,
			"duration":        assessment.DurationMinutes,
			"total_questions": len(questions),
		},
		"in_progress":      progress.InProgress,
		"answered_counts":  progress.AnsweredCounts,
		"violation_counts": progress.ViolationCounts,
		"total_violations": progress.TotalViolations,
	})
}

// MonitorAssessmentSSE godoc
// GET /api/v1/monitor/assessments/:assessment_id/stream
// Live dashboard stream: an initial snapshot, pub/sub events forwarded as
// they happen, a periodic refresh and keep-alive pings.
func (h *MonitorHandler) MonitorAssessmentSSE(c *gin.Context) {
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

	assessment, questions, err := h.assessmentService.GetDefinition(c.Request.Context(), assessmentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrAssessmentNotAvailable)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	totalQuestions := len(questions)

	h.sendInitialSnapshot(c, reqCtx, assessmentID, assessment.Title, assessment.DurationMinutes, totalQuestions)

	// Subscribe to the assessment's live event channel.
	channelName := config.CacheKey.AssessmentMonitorChannel(assessmentID.String())
	pubsub := h.rdb.Subscribe(reqCtx, channelName)
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Track whether any student has joined so we can skip empty refreshes
	hasStudents := false

	h.log.Info().Str("assessment_id", assessmentID.String()).Msg("Proctor attached to live monitor SSE")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assessment_id", assessmentID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg := <-ch:
			// Forward raw JSON directly, no deserialization needed.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

			// A join/submit/violation event proves students are present.
			hasStudents = true

		case <-refreshTicker.C:
			if !hasStudents {
				continue // no point querying if nobody has joined
			}
			h.sendRefresh(c, reqCtx, assessmentID, totalQuestions)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendInitialSnapshot gathers data and writes the first SSE event.
func (h *MonitorHandler) sendInitialSnapshot(
	c *gin.Context,
	ctx context.Context,
	assessmentID uuid.UUID,
	title string,
	durationMinutes int,
	totalQuestions int,
) {
	// Fetch counts with a timeout so a slow query doesn't block the connection
	fetchCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	var totalViolations int64
	students := make([]map[string]interface{}, 0)

	if progress, err := h.monitorService.GetStudentProgress(fetchCtx, assessmentID); err == nil {
		totalViolations = progress.TotalViolations
		for _, sid := range progress.InProgress {
			students = append(students, map[string]interface{}{
				"student_id":      sid,
				"answered_count":  progress.AnsweredCounts[sid],
				"violation_count": progress.ViolationCounts[sid],
				"total_questions": totalQuestions,
			})
		}
	}

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"data": map[string]interface{}{
			"assessment": map[string]interface{}{
				"id":              assessmentID.String(),
				"title":           title,
				"duration":        durationMinutes,
				"total_questions": totalQuestions,
			},
			"stats": map[string]interface{}{
				"total_in_progress": len(students),
				"total_violations":  totalViolations,
			},
			"students": students,
		},
	})
	c.Writer.Flush()
}

// sendRefresh polls DB+Redis for current progress and sends a compact refresh event.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, assessmentID uuid.UUID, totalQuestions int) {
	// Scoped timeout prevents a slow query from stalling the SSE loop
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetStudentProgress(ctx, assessmentID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch student progress for refresh")
		return
	}

	// Single-pass merge: iterate answered counts, decorate with violation counts
	progressData := make([]map[string]interface{}, 0, len(progress.AnsweredCounts)+len(progress.ViolationCounts))

	for sid, answered := range progress.AnsweredCounts {
		progressData = append(progressData, map[string]interface{}{
			"student_id":      sid,
			"answered_count":  answered,
			"violation_count": progress.ViolationCounts[sid], // 0 if missing
		})
		delete(progress.ViolationCounts, sid) // mark as handled
	}

	// Remaining violation-only students (no synced answers yet)
	for sid, violations := range progress.ViolationCounts {
		progressData = append(progressData, map[string]interface{}{
			"student_id":      sid,
			"answered_count":  int64(0),
			"violation_count": violations,
		})
	}

	c.SSEvent("message", map[string]interface{}{
		"type":             "refresh",
		"total_questions":  totalQuestions,
		"total_violations": progress.TotalViolations,
		"students":         progressData,
	})
	c.Writer.Flush()
}
