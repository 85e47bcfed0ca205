package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/config"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/engine"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/repository"
)

// attemptRepository is the slice of the attempt repository the service uses,
// narrowed to an interface so tests can drive the service with an in-memory
// implementation.
type attemptRepository interface {
	GetByAssessmentAndStudent(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error)
	Create(ctx context.Context, a *model.Attempt) error
	UpsertAnswers(ctx context.Context, assessmentID uuid.UUID, studentID int, answers map[string]string) error
	FinalizeSubmission(ctx context.Context, assessmentID uuid.UUID, studentID int, answers map[string]string) (*model.Attempt, error)
	IncrementViolation(ctx context.Context, assessmentID uuid.UUID, studentID int) (int, error)
}

var _ attemptRepository = (*repository.AttemptRepository)(nil)

// assessmentDefinitions provides published assessment definitions.
type assessmentDefinitions interface {
	GetDefinition(ctx context.Context, id uuid.UUID) (*model.Assessment, []model.Question, error)
}

// AttemptService orchestrates attempt lifecycle operations. It implements
// engine.AttemptStore for live WebSocket sessions and serves the stateless
// HTTP entry/state/submit/violation paths with the same primitives, so both
// surfaces share one idempotency discipline.
type AttemptService struct {
	attemptRepo       attemptRepository
	assessmentService assessmentDefinitions
	drafts            engine.DraftCache
	rdb               *redis.Client
	log               zerolog.Logger
	now               func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo attemptRepository,
	assessmentService assessmentDefinitions,
	drafts engine.DraftCache,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo:       attemptRepo,
		assessmentService: assessmentService,
		drafts:            drafts,
		rdb:               rdb,
		log:               log.With().Str("component", "attempt_service").Logger(),
		now:               time.Now,
	}
}

var _ engine.AttemptStore = (*AttemptService)(nil)

// ─── engine.AttemptStore ────────────────────────────────────────────

// Get loads the attempt with its synced answers. The authoritative start
// time is mirrored into Redis so countdown reads stay off PostgreSQL.
func (s *AttemptService) Get(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	attempt, err := s.attemptRepo.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, engine.ErrAttemptNotFound
		}
		return nil, err
	}

	// Self-heal the fast lane.
	startKey := config.CacheKey.AttemptStartKey(assessmentID.String(), studentID)
	_ = s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0)

	// The question-order queue may not have caught up with a fresh attempt;
	// Redis holds the realized order synchronously.
	if len(attempt.QuestionOrder) == 0 {
		if order, err := s.readCachedOrder(ctx, assessmentID, studentID); err == nil {
			attempt.QuestionOrder = order
		}
	}

	return attempt, nil
}

// Create inserts the attempt (create-if-absent), realizes the question order
// exactly once, and warms the start-time fast lane. Concurrent creations
// converge on the database winner.
func (s *AttemptService) Create(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	assessment, questions, err := s.assessmentService.GetDefinition(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	attempt := &model.Attempt{
		AssessmentID: assessmentID,
		StudentID:    studentID,
	}

	if err := s.attemptRepo.Create(ctx, attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent creation: return the winner.
			return s.Get(ctx, assessmentID, studentID)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	attempt.QuestionOrder = s.realizeQuestionOrder(ctx, assessment, questions, studentID)
	attempt.Answers = make(map[string]string)

	startKey := config.CacheKey.AttemptStartKey(assessmentID.String(), studentID)
	if err := s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache attempt start time")
	}

	s.publishMonitorEvent(ctx, assessmentID, map[string]interface{}{
		"type":       "joined",
		"student_id": studentID,
	})

	return attempt, nil
}

// UpsertAnswers syncs answers. submit=true is the idempotent terminal
// transition; submit=false is the best-effort draft sync.
func (s *AttemptService) UpsertAnswers(ctx context.Context, assessmentID uuid.UUID, studentID int, answers map[string]string, submit bool) (*model.Attempt, error) {
	if !submit {
		if err := s.attemptRepo.UpsertAnswers(ctx, assessmentID, studentID, answers); err != nil {
			return nil, err
		}
		return s.Get(ctx, assessmentID, studentID)
	}

	attempt, err := s.attemptRepo.FinalizeSubmission(ctx, assessmentID, studentID, answers)
	if err != nil {
		return nil, err
	}

	s.publishMonitorEvent(ctx, assessmentID, map[string]interface{}{
		"type":       "submitted",
		"student_id": studentID,
	})

	return attempt, nil
}

// IncrementViolation bumps the monotonic counter (write-through).
func (s *AttemptService) IncrementViolation(ctx context.Context, assessmentID uuid.UUID, studentID int) (int, error) {
	count, err := s.attemptRepo.IncrementViolation(ctx, assessmentID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, engine.ErrAttemptNotFound
		}
		return 0, err
	}

	s.publishMonitorEvent(ctx, assessmentID, map[string]interface{}{
		"type":       "violation",
		"student_id": studentID,
		"count":      count,
	})

	return count, nil
}

// ─── HTTP orchestration ─────────────────────────────────────────────

// EnterResult is the outcome of the entry endpoint.
type EnterResult struct {
	View *model.AttemptStateView `json:"attempt"`
	// Created is true on first entry, false on resume.
	Created bool `json:"created"`
	// Reason is set when entry landed on a terminal state (already submitted,
	// or finalized on entry because the deadline had passed).
	Reason model.TerminalReason `json:"reason,omitempty"`
}

// Enter creates the attempt on first entry or rehydrates it on re-entry.
// A deadline that passed while the student was away triggers an immediate
// finalizing submit with the merged answer set, no prompt.
func (s *AttemptService) Enter(ctx context.Context, assessmentID uuid.UUID, studentID int) (*EnterResult, error) {
	assessment, questions, err := s.assessmentService.GetDefinition(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.Get(ctx, assessmentID, studentID)
	if errors.Is(err, engine.ErrAttemptNotFound) {
		attempt, err = s.Create(ctx, assessmentID, studentID)
		if err != nil {
			return nil, err
		}
		return &EnterResult{
			View:    s.buildView(assessment, len(questions), attempt, attempt.Answers, model.AttemptStateInProgress),
			Created: true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if attempt.Submitted() || attempt.IsGraded {
		return &EnterResult{
			View:   s.buildView(assessment, len(questions), attempt, attempt.Answers, model.AttemptStateSubmitted),
			Reason: model.TerminalSubmitted,
		}, nil
	}

	merged := s.mergedAnswers(ctx, attempt)

	if attempt.Remaining(assessment.Duration(), s.now()) == 0 {
		// Finalizing submit with the best available answer set.
		finalized, err := s.UpsertAnswers(ctx, assessmentID, studentID, merged, true)
		if err != nil {
			return nil, fmt.Errorf("finalize expired attempt: %w", err)
		}
		if err := s.drafts.Clear(ctx, assessmentID, studentID); err != nil {
			s.log.Warn().Err(err).Msg("Draft clear failed after entry finalize")
		}
		return &EnterResult{
			View:   s.buildView(assessment, len(questions), finalized, finalized.Answers, model.AttemptStateSubmitted),
			Reason: model.TerminalTimeout,
		}, nil
	}

	// Resume decision point: a UX affordance, not a safety mechanism — the
	// countdown keeps running while the student decides.
	return &EnterResult{
		View: s.buildView(assessment, len(questions), attempt, merged, model.AttemptStateResumable),
	}, nil
}

// GetState serves the reload path: merged answers plus remaining time from
// the Redis fast lane (PostgreSQL fallback with self-heal on a miss). An
// expired unsubmitted attempt is finalized here, same as on entry.
func (s *AttemptService) GetState(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.AttemptStateView, error) {
	assessment, questions, err := s.assessmentService.GetDefinition(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.Get(ctx, assessmentID, studentID)
	if err != nil {
		return nil, err
	}

	startedAt, err := s.startedAt(ctx, assessmentID, studentID, attempt)
	if err == nil {
		attempt.StartedAt = startedAt
	}

	if attempt.Submitted() || attempt.IsGraded {
		return s.buildView(assessment, len(questions), attempt, attempt.Answers, model.AttemptStateSubmitted), nil
	}

	merged := s.mergedAnswers(ctx, attempt)

	if attempt.Remaining(assessment.Duration(), s.now()) == 0 {
		// Same finalizing submit as the entry path; a reload must not keep an
		// expired attempt alive.
		finalized, err := s.UpsertAnswers(ctx, assessmentID, studentID, merged, true)
		if err != nil {
			return nil, fmt.Errorf("finalize expired attempt: %w", err)
		}
		if err := s.drafts.Clear(ctx, assessmentID, studentID); err != nil {
			s.log.Warn().Err(err).Msg("Draft clear failed after reload finalize")
		}
		return s.buildView(assessment, len(questions), finalized, finalized.Answers, model.AttemptStateSubmitted), nil
	}

	return s.buildView(assessment, len(questions), attempt, merged, model.AttemptStateInProgress), nil
}

// Submit handles an explicit submit. clientAnswers (when present) overlay the
// merged draft/remote set, so the payload the student sees is the payload
// that lands. Idempotent: a second submit observes the stored terminal row.
func (s *AttemptService) Submit(ctx context.Context, assessmentID uuid.UUID, studentID int, clientAnswers map[string]string) (*model.AttemptStateView, error) {
	assessment, questions, err := s.assessmentService.GetDefinition(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.Get(ctx, assessmentID, studentID)
	if err != nil {
		return nil, err
	}

	if attempt.Submitted() {
		return s.buildView(assessment, len(questions), attempt, attempt.Answers, model.AttemptStateSubmitted), nil
	}

	answers := s.mergedAnswers(ctx, attempt)
	for qid, ans := range clientAnswers {
		answers[qid] = ans
	}

	finalized, err := s.UpsertAnswers(ctx, assessmentID, studentID, answers, true)
	if err != nil {
		return nil, fmt.Errorf("submit attempt: %w", err)
	}

	if err := s.drafts.Clear(ctx, assessmentID, studentID); err != nil {
		s.log.Warn().Err(err).Msg("Draft clear failed after submit")
	}

	return s.buildView(assessment, len(questions), finalized, finalized.Answers, model.AttemptStateSubmitted), nil
}

// ReportViolation is the HTTP fallback for proctoring signals: queue the
// event, bump the counter, and force submission on the first threshold
// crossing. The store-level idempotent terminal transition makes a racing
// WebSocket forced submit safe.
func (s *AttemptService) ReportViolation(ctx context.Context, assessmentID uuid.UUID, studentID int, report *model.ViolationReport) (int, bool, error) {
	assessment, _, err := s.assessmentService.GetDefinition(ctx, assessmentID)
	if err != nil {
		return 0, false, err
	}
	if !assessment.Proctored() {
		return 0, false, engine.ErrNotProctored
	}

	s.QueueViolationEvent(ctx, assessmentID, studentID, report)

	count, err := s.IncrementViolation(ctx, assessmentID, studentID)
	if err != nil {
		return 0, false, err
	}

	if count < assessment.MaxViolations {
		return count, false, nil
	}

	attempt, err := s.Get(ctx, assessmentID, studentID)
	if err != nil {
		return count, false, err
	}
	if attempt.Submitted() {
		return count, false, nil
	}

	merged := s.mergedAnswers(ctx, attempt)
	if _, err := s.UpsertAnswers(ctx, assessmentID, studentID, merged, true); err != nil {
		return count, false, fmt.Errorf("forced submit: %w", err)
	}
	if err := s.drafts.Clear(ctx, assessmentID, studentID); err != nil {
		s.log.Warn().Err(err).Msg("Draft clear failed after forced submit")
	}

	s.log.Info().
		Str("assessment_id", assessmentID.String()).
		Int("student_id", studentID).
		Int("count", count).
		Msg("Violation threshold reached, attempt force-submitted")

	return count, true, nil
}

// QueueViolationEvent pushes the raw proctoring event to the violation queue
// for batched persistence.
func (s *AttemptService) QueueViolationEvent(ctx context.Context, assessmentID uuid.UUID, studentID int, report *model.ViolationReport) {
	payload, _ := json.Marshal(map[string]interface{}{
		"student_id":    studentID,
		"assessment_id": assessmentID.String(),
		"timestamp":     s.now().Unix(),
		"kind":          report.Kind,
		"payload":       report.Payload,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Violation event enqueue failed")
	}
}

// VerifyActiveAttempt checks that the student has an unsubmitted attempt for
// the assessment. Guards the paper and stream endpoints.
func (s *AttemptService) VerifyActiveAttempt(ctx context.Context, assessmentID uuid.UUID, studentID int) error {
	attempt, err := s.Get(ctx, assessmentID, studentID)
	if err != nil {
		return err
	}
	if attempt.Submitted() {
		return engine.ErrAttemptFinished
	}
	return nil
}

// ─── Internals ──────────────────────────────────────────────────────

// mergedAnswers reconciles store answers with the draft cache.
func (s *AttemptService) mergedAnswers(ctx context.Context, attempt *model.Attempt) map[string]string {
	draft, err := s.drafts.Read(ctx, attempt.AssessmentID, attempt.StudentID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Draft read failed, using store answers only")
		draft = nil
	}
	return engine.Merge(attempt.Answers, draft)
}

// startedAt resolves the authoritative start instant: Redis fast lane first,
// PostgreSQL fallback with self-heal on a cache miss.
func (s *AttemptService) startedAt(ctx context.Context, assessmentID uuid.UUID, studentID int, attempt *model.Attempt) (time.Time, error) {
	startKey := config.CacheKey.AttemptStartKey(assessmentID.String(), studentID)

	val, err := s.rdb.Get(ctx, startKey).Result()
	if errors.Is(err, redis.Nil) {
		_ = s.rdb.Set(ctx, startKey, attempt.StartedAt.Unix(), 0)
		return attempt.StartedAt, nil
	}
	if err != nil {
		return attempt.StartedAt, fmt.Errorf("redis error getting start time: %w", err)
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return attempt.StartedAt, fmt.Errorf("invalid start time format in cache: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// realizeQuestionOrder draws the presented order exactly once at creation,
// caches it synchronously in Redis, and queues the durable update of the
// attempt row. A resumed attempt always sees the original order.
func (s *AttemptService) realizeQuestionOrder(ctx context.Context, assessment *model.Assessment, questions []model.Question, studentID int) []uuid.UUID {
	order := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		order[i] = q.ID
	}
	if assessment.RandomizeQuestions {
		rand.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	ids := make([]string, len(order))
	for i, id := range order {
		ids[i] = id.String()
	}

	orderKey := config.CacheKey.AttemptOrderKey(assessment.ID.String(), studentID)
	raw, _ := json.Marshal(ids)
	if err := s.rdb.Set(ctx, orderKey, raw, 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache question order")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"assessment_id": assessment.ID.String(),
		"student_id":    studentID,
		"order":         ids,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistQuestionOrderQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Question order enqueue failed")
	}

	return order
}

func (s *AttemptService) readCachedOrder(ctx context.Context, assessmentID uuid.UUID, studentID int) ([]uuid.UUID, error) {
	orderKey := config.CacheKey.AttemptOrderKey(assessmentID.String(), studentID)
	raw, err := s.rdb.Get(ctx, orderKey).Result()
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	order := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		order = append(order, parsed)
	}
	return order, nil
}

func (s *AttemptService) buildView(assessment *model.Assessment, totalQuestions int, attempt *model.Attempt, answers map[string]string, state model.AttemptState) *model.AttemptStateView {
	remaining := attempt.Remaining(assessment.Duration(), s.now())
	if state == model.AttemptStateSubmitted {
		remaining = 0
	}
	return &model.AttemptStateView{
		AssessmentID:   attempt.AssessmentID,
		StudentID:      attempt.StudentID,
		State:          state,
		Answers:        answers,
		AnsweredCount:  engine.AnsweredCount(answers),
		TotalQuestions: totalQuestions,
		RemainingMs:    remaining.Milliseconds(),
		ViolationCount: attempt.ViolationCount,
		QuestionOrder:  attempt.QuestionOrder,
	}
}

// publishMonitorEvent forwards a live event to the assessment's monitor
// channel. Best-effort: dashboards fall back to periodic refresh.
func (s *AttemptService) publishMonitorEvent(ctx context.Context, assessmentID uuid.UUID, event map[string]interface{}) {
	payload, _ := json.Marshal(event)
	if err := s.rdb.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID.String()), payload).Err(); err != nil {
		s.log.Debug().Err(err).Msg("Monitor publish failed")
	}
}
