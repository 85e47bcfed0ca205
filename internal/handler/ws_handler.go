package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/engine"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/middleware"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/service"
	ws "github.com/putrasoegamaland/lms-sekolah-backend/internal/websocket"
)

// commandTimeout bounds how long a client action may wait on the session loop.
const commandTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the live attempt stream. Each connection hosts its own
// session controller; the controller pushes state/terminal events down the
// socket while the read loop feeds client actions into it.
type WSHandler struct {
	assessmentService *service.AssessmentService
	attemptService    *service.AttemptService
	drafts            engine.DraftCache
	finalize          engine.FinalizeQueue
	log               zerolog.Logger
	upgrader          websocket.Upgrader
	tick              time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	assessmentService *service.AssessmentService,
	attemptService *service.AttemptService,
	drafts engine.DraftCache,
	finalize engine.FinalizeQueue,
	log zerolog.Logger,
	allowedOrigins []string,
	tick time.Duration,
) *WSHandler {
	return &WSHandler{
		assessmentService: assessmentService,
		attemptService:    attemptService,
		drafts:            drafts,
		finalize:          finalize,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
		tick:              tick,
	}
}

// connSink serializes all writes to one connection: controller events arrive
// from the session goroutine, command replies from the read loop.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  zerolog.Logger
}

func (s *connSink) send(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ws.WriteTyped(s.conn, v); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket write failed")
	}
}

func (s *connSink) sendError(msg string) {
	s.send(ws.ErrorResponse{Event: ws.EventError, Error: msg})
}

func (s *connSink) StateChanged(state model.AttemptState, remaining time.Duration, answered int) {
	s.send(ws.StateEvent{
		Event:         ws.EventState,
		State:         string(state),
		RemainingMs:   remaining.Milliseconds(),
		AnsweredCount: answered,
	})
}

func (s *connSink) ResumeOffered(answered, total int, remaining time.Duration) {
	s.send(ws.ResumeOfferEvent{
		Event:          ws.EventResumeOffer,
		AnsweredCount:  answered,
		TotalQuestions: total,
		RemainingMs:    remaining.Milliseconds(),
	})
}

func (s *connSink) Terminal(reason model.TerminalReason, answers map[string]string) {
	s.send(ws.TerminalEvent{
		Event:   ws.EventTerminal,
		Reason:  string(reason),
		Answers: answers,
	})
}

// AttemptStream godoc
// WS /ws/v1/student/assessments/:assessment_id/stream
// Upgrades to WebSocket and runs the attempt session: countdown ticks,
// autosave, violations, resume and submit.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assessment ID"})
		return
	}

	assessment, questions, err := h.assessmentService.GetDefinition(c.Request.Context(), assessmentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "assessment not available"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("assessment_id", assessmentID.String()).
		Logger()

	sink := &connSink{conn: conn, log: wsLog}

	ctrl := engine.NewController(assessment, questions, studentID, engine.Deps{
		Store:    h.attemptService,
		Drafts:   h.drafts,
		Finalize: h.finalize,
		Sink:     sink,
		Log:      wsLog,
		Tick:     h.tick,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(runCtx) }()

	wsLog.Info().Msg("Student connected")
	defer wsLog.Info().Msg("Student disconnected")

	for {
		data, err := h.readMessage(conn, wsLog)
		if err != nil {
			return
		}

		var envelope ws.RequestEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			sink.sendError("invalid message")
			continue
		}

		switch envelope.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctrl, sink, data)
		case ws.ActionSubmit:
			h.handleSubmit(ctrl, sink, wsLog, data)
		case ws.ActionViolation:
			h.handleViolation(ctrl, sink, assessmentID, studentID, data)
		case ws.ActionResumeAccept:
			h.withTimeout(func(ctx context.Context) {
				if err := ctrl.AcceptResume(ctx); err != nil {
					sink.sendError("resume failed")
				}
			})
		case ws.ActionPing:
			sink.send(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
			sink.sendError("unknown action: " + string(envelope.Action))
		}

		// A fatal controller exit (assessment withdrawn mid-read) ends the
		// stream; normal terminal states keep it open for the client to close.
		select {
		case err := <-runDone:
			if err != nil {
				wsLog.Warn().Err(err).Msg("Session loop exited")
				sink.sendError("session ended")
			}
			return
		default:
		}
	}
}

func (h *WSHandler) readMessage(conn *websocket.Conn, wsLog zerolog.Logger) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	_, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			wsLog.Warn().Err(err).Msg("Unexpected close")
		} else {
			wsLog.Debug().Msg("Connection closed")
		}
		return nil, err
	}
	return data, nil
}

func (h *WSHandler) handleAutosave(ctrl *engine.Controller, sink *connSink, data []byte) {
	var msg ws.AutosaveRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		sink.sendError("invalid autosave payload")
		return
	}

	if msg.QID == "" || msg.Answer == "" {
		sink.sendError("q_id and ans are required")
		return
	}

	// SECURITY: Validate QID is a well-formed UUID to prevent Redis key injection.
	if _, err := uuid.Parse(msg.QID); err != nil {
		sink.sendError("invalid q_id format")
		return
	}

	h.withTimeout(func(ctx context.Context) {
		if err := ctrl.SetAnswer(ctx, msg.QID, msg.Answer); err != nil {
			switch {
			case errors.Is(err, engine.ErrQuestionNotInAssessment):
				sink.sendError("question does not belong to this assessment")
			case errors.Is(err, engine.ErrAttemptFinished):
				sink.sendError("attempt is already submitted")
			default:
				sink.sendError("save failed")
			}
			return
		}
		sink.send(ws.SavedEvent{Event: ws.EventSaved, QID: msg.QID})
	})
}

func (h *WSHandler) handleSubmit(ctrl *engine.Controller, sink *connSink, wsLog zerolog.Logger, data []byte) {
	var msg ws.SubmitRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		sink.sendError("invalid submit payload")
		return
	}

	h.withTimeout(func(ctx context.Context) {
		// Client-held edits ride along with the submit.
		for qid, ans := range msg.Answers {
			if _, err := uuid.Parse(qid); err != nil {
				continue
			}
			if err := ctrl.SetAnswer(ctx, qid, ans); err != nil {
				break
			}
		}

		if err := ctrl.Submit(ctx); err != nil {
			wsLog.Error().Err(err).Msg("Submit failed")
			sink.sendError("submit failed, please retry")
			return
		}
		wsLog.Info().Msg("Attempt submitted")
	})
}

func (h *WSHandler) handleViolation(ctrl *engine.Controller, sink *connSink, assessmentID uuid.UUID, studentID int, data []byte) {
	var msg ws.ViolationRequest
	if err := json.Unmarshal(data, &msg); err != nil || msg.Kind == "" {
		sink.sendError("invalid violation payload")
		return
	}

	h.withTimeout(func(ctx context.Context) {
		h.attemptService.QueueViolationEvent(ctx, assessmentID, studentID, &model.ViolationReport{
			Kind:    msg.Kind,
			Payload: msg.Payload,
		})

		if _, err := ctrl.ReportViolation(ctx); err != nil {
			if errors.Is(err, engine.ErrNotProctored) {
				sink.sendError("assessment is not proctored")
				return
			}
			sink.sendError("violation report failed")
		}
	})
}

func (h *WSHandler) withTimeout(fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	fn(ctx)
}
