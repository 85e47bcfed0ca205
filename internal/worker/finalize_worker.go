package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/config"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/engine"
)

const (
	FinalizeBatchSize    = 50
	FinalizeBatchTimeout = 2 * time.Second
	FinalizePollTimeout  = 1 * time.Second
)

// FinalizeWorker drains finalize_attempts_queue: terminal submissions that a
// live session could not deliver to PostgreSQL (timer expiry while the store
// was unreachable). Marking submitted is guarded on submitted_at IS NULL, so
// a queued finalize that lost the race to an online submit is a no-op.
type FinalizeWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewFinalizeWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *FinalizeWorker {
	return &FinalizeWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "finalize_worker").Logger(),
	}
}

func (w *FinalizeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("FinalizeWorker started")

	batch := make([]*engine.FinalizeRequest, 0, FinalizeBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= FinalizeBatchSize || time.Since(lastFlush) >= FinalizeBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, FinalizePollTimeout, config.WorkerKey.FinalizeAttemptsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var req engine.FinalizeRequest
			if err := json.Unmarshal([]byte(item[1]), &req); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &req)
		}
	}
}

func (w *FinalizeWorker) flushSafe(ctx context.Context, batch []*engine.FinalizeRequest) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkFinalize(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk finalize failed, using fallback")

		for _, req := range batch {
			if err := w.finalizeSingle(ctx, req); err != nil {
				w.log.Error().Err(err).
					Str("assessment_id", req.AssessmentID.String()).
					Int("student_id", req.StudentID).
					Msg("finalizeSingle failed — requeueing")
				raw, _ := json.Marshal(req)
				w.rdb.RPush(ctx, config.WorkerKey.FinalizeAttemptsQueue, raw)
			}
		}
		return
	}

	// After successful finalization → delete the draft hashes in Redis.
	w.bulkClearDrafts(ctx, batch)
}

// bulkFinalize writes each request's answer set, then marks the whole batch
// submitted in one UNNEST update.
func (w *FinalizeWorker) bulkFinalize(ctx context.Context, batch []*engine.FinalizeRequest) error {
	for _, req := range batch {
		if err := w.persistAnswers(ctx, req); err != nil {
			return err
		}
	}
	return w.bulkMarkSubmitted(ctx, batch)
}

// persistAnswers upserts one request's answers, guarded against attempts that
// have already been finalized elsewhere.
func (w *FinalizeWorker) persistAnswers(ctx context.Context, req *engine.FinalizeRequest) error {
	if len(req.Answers) == 0 {
		return nil
	}

	qids := make([]uuid.UUID, 0, len(req.Answers))
	answers := make([]string, 0, len(req.Answers))
	for qid, ans := range req.Answers {
		questionID, err := uuid.Parse(qid)
		if err != nil {
			w.log.Error().Str("q_id", qid).Msg("Dropping answer with invalid question id")
			continue
		}
		qids = append(qids, questionID)
		answers = append(answers, ans)
	}

	query := `
		INSERT INTO attempt_answers AS aa (assessment_id, student_id, question_id, answer)
		SELECT $1, $2, u.question_id, u.answer
		FROM UNNEST($3::uuid[], $4::text[]) AS u (question_id, answer)
		WHERE EXISTS (
		    SELECT 1 FROM attempts
		    WHERE assessment_id = $1 AND student_id = $2 AND submitted_at IS NULL
		)
		ON CONFLICT (assessment_id, student_id, question_id) DO UPDATE
		SET answer = EXCLUDED.answer, updated_at = NOW()
		WHERE (
		    SELECT submitted_at FROM attempts
		    WHERE assessment_id = aa.assessment_id AND student_id = aa.student_id
		) IS NULL
	`

	_, err := w.pool.Exec(ctx, query, req.AssessmentID, req.StudentID, qids, answers)
	return err
}

func (w *FinalizeWorker) bulkMarkSubmitted(ctx context.Context, batch []*engine.FinalizeRequest) error {
	n := len(batch)

	assessmentIDs := make([]uuid.UUID, 0, n)
	students := make([]int, 0, n)
	submittedAts := make([]time.Time, n)

	now := time.Now()
	for i, req := range batch {
		assessmentIDs = append(assessmentIDs, req.AssessmentID)
		students = append(students, req.StudentID)
		submittedAts[i] = now
	}

	query := `
		UPDATE attempts AS a
		SET submitted_at = t.submitted_at
		FROM (
			SELECT
				u.assessment_id,
				u.student_id,
				u.submitted_at
			FROM UNNEST(
				$1::uuid[],
				$2::int[],
				$3::timestamptz[]
			) AS u (assessment_id, student_id, submitted_at)
		) AS t
		WHERE a.assessment_id = t.assessment_id
		  AND a.student_id = t.student_id
		  AND a.submitted_at IS NULL
	`

	_, err := w.pool.Exec(ctx, query, assessmentIDs, students, submittedAts)
	return err
}

func (w *FinalizeWorker) bulkClearDrafts(ctx context.Context, batch []*engine.FinalizeRequest) {
	pipe := w.rdb.Pipeline()

	for _, req := range batch {
		key := config.CacheKey.AttemptDraftKey(req.AssessmentID.String(), req.StudentID)
		pipe.Del(ctx, key)
	}

	_, _ = pipe.Exec(ctx)
}

// finalizeSingle is the row-by-row fallback.
func (w *FinalizeWorker) finalizeSingle(ctx context.Context, req *engine.FinalizeRequest) error {
	if err := w.persistAnswers(ctx, req); err != nil {
		return err
	}

	_, err := w.pool.Exec(ctx,
		`UPDATE attempts SET submitted_at = NOW()
		 WHERE assessment_id = $1 AND student_id = $2 AND submitted_at IS NULL`,
		req.AssessmentID, req.StudentID,
	)
	if err != nil {
		return err
	}

	key := config.CacheKey.AttemptDraftKey(req.AssessmentID.String(), req.StudentID)
	_ = w.rdb.Del(ctx, key).Err()
	return nil
}
