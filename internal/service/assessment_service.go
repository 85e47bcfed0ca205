package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/config"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/engine"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/repository"
)

// AssessmentService serves assessment definitions with a Redis fast lane.
// The payload cache keeps the attempt hot path off PostgreSQL; the database
// stays the source of truth and misses self-heal.
type AssessmentService struct {
	assessmentRepo *repository.AssessmentRepository
	questionRepo   *repository.QuestionRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(
	assessmentRepo *repository.AssessmentRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *AssessmentService {
	return &AssessmentService{
		assessmentRepo: assessmentRepo,
		questionRepo:   questionRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "assessment_service").Logger(),
	}
}

// GetDefinition loads the assessment and its questions for an attempt
// session. A missing or unpublished assessment is a hard error: no attempt
// may be created against it.
func (s *AssessmentService) GetDefinition(ctx context.Context, id uuid.UUID) (*model.Assessment, []model.Question, error) {
	assessment, err := s.assessmentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, engine.ErrAssessmentNotAvailable
		}
		return nil, nil, fmt.Errorf("get assessment: %w", err)
	}
	if assessment.Status != model.AssessmentStatusPublished {
		return nil, nil, engine.ErrAssessmentNotAvailable
	}

	questions, err := s.questionRepo.ListByAssessment(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil, engine.ErrAssessmentNotAvailable
	}

	return assessment, questions, nil
}

// GetPayload returns the cached student-facing payload, rebuilding the cache
// from PostgreSQL on a miss.
func (s *AssessmentService) GetPayload(ctx context.Context, id uuid.UUID) (*model.AssessmentPayload, error) {
	key := config.CacheKey.AssessmentPayloadKey(id.String())

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		payload := &model.AssessmentPayload{}
		if err := json.Unmarshal([]byte(raw), payload); err == nil {
			return payload, nil
		}
		// Corrupt cache entry: fall through and rebuild.
		s.log.Warn().Str("assessment_id", id.String()).Msg("Corrupt payload cache entry, rebuilding")
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read payload cache: %w", err)
	}

	assessment, questions, err := s.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.WarmAssessmentCache(ctx, assessment, questions); err != nil {
		s.log.Warn().Err(err).Msg("Payload cache warm failed")
	}

	return buildPayload(assessment, questions), nil
}

// WarmAssessmentCache writes the payload, duration, and violation policy for
// one assessment into Redis.
func (s *AssessmentService) WarmAssessmentCache(ctx context.Context, assessment *model.Assessment, questions []model.Question) error {
	payload := buildPayload(assessment, questions)

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	id := assessment.ID.String()
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AssessmentPayloadKey(id), raw, 0)
	pipe.Set(ctx, config.CacheKey.AssessmentDurationKey(id), strconv.Itoa(assessment.DurationMinutes), 0)
	pipe.Set(ctx, config.CacheKey.AssessmentMaxViolationsKey(id), strconv.Itoa(assessment.MaxViolations), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	return nil
}

// PrewarmAllCaches loads every published assessment into Redis. Called before
// the server accepts traffic so lazy loading never races a thundering herd.
func (s *AssessmentService) PrewarmAllCaches(ctx context.Context) error {
	assessments, err := s.assessmentRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published: %w", err)
	}

	for i := range assessments {
		a := &assessments[i]
		questions, err := s.questionRepo.ListByAssessment(ctx, a.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("assessment_id", a.ID.String()).Msg("Prewarm skip: questions load failed")
			continue
		}
		if err := s.WarmAssessmentCache(ctx, a, questions); err != nil {
			s.log.Warn().Err(err).Str("assessment_id", a.ID.String()).Msg("Prewarm skip: cache write failed")
			continue
		}
	}

	s.log.Info().Int("count", len(assessments)).Msg("Assessment caches prewarmed")
	return nil
}

func buildPayload(assessment *model.Assessment, questions []model.Question) *model.AssessmentPayload {
	qs := make([]model.QuestionForStudent, 0, len(questions))
	for _, q := range questions {
		qs = append(qs, model.QuestionForStudent{
			ID:           q.ID,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			Options:      q.Options,
			Points:       q.Points,
			OrderNum:     q.OrderNum,
		})
	}
	return &model.AssessmentPayload{
		AssessmentID:       assessment.ID,
		Title:              assessment.Title,
		DurationMinutes:    assessment.DurationMinutes,
		RandomizeQuestions: assessment.RandomizeQuestions,
		MaxViolations:      assessment.MaxViolations,
		Questions:          qs,
	}
}
