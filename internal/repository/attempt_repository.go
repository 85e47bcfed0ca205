package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
)

// AttemptRepository handles attempt data access. One attempt row per
// (assessment_id, student_id); the database enforces the uniqueness and
// assigns started_at exactly once.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByAssessmentAndStudent retrieves the attempt row with its synced answers
// and the realized question order. Returns pgx.ErrNoRows when absent.
func (r *AttemptRepository) GetByAssessmentAndStudent(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	var orderRaw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, assessment_id, student_id, started_at, submitted_at,
		        violation_count, is_graded, question_order
		 FROM attempts
		 WHERE assessment_id = $1 AND student_id = $2`, assessmentID, studentID,
	).Scan(&a.ID, &a.AssessmentID, &a.StudentID, &a.StartedAt, &a.SubmittedAt,
		&a.ViolationCount, &a.IsGraded, &orderRaw)
	if err != nil {
		return nil, err
	}

	if len(orderRaw) > 0 {
		if err := json.Unmarshal(orderRaw, &a.QuestionOrder); err != nil {
			return nil, fmt.Errorf("decode question order: %w", err)
		}
	}

	answers, err := r.GetAnswers(ctx, assessmentID, studentID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	a.Answers = answers

	return a, nil
}

// GetAnswers returns the synced answer map for an attempt.
func (r *AttemptRepository) GetAnswers(ctx context.Context, assessmentID uuid.UUID, studentID int) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer
		 FROM attempt_answers
		 WHERE assessment_id = $1 AND student_id = $2`, assessmentID, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var qid uuid.UUID
		var ans string
		if err := rows.Scan(&qid, &ans); err != nil {
			return nil, err
		}
		answers[qid.String()] = ans
	}
	return answers, rows.Err()
}

// Create inserts a new attempt (create-if-absent). On a concurrent insert the
// ON CONFLICT clause makes RETURNING yield no row and pgx.ErrNoRows comes
// back; callers fetch the winner instead of erroring.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (assessment_id, student_id)
		 VALUES ($1, $2)
		 ON CONFLICT (assessment_id, student_id) DO NOTHING
		 RETURNING id, started_at`,
		a.AssessmentID, a.StudentID,
	).Scan(&a.ID, &a.StartedAt)
}

// UpsertAnswers writes a draft answer batch. Submitted attempts are immutable:
// both insert and update arms are guarded on submitted_at IS NULL, so a late
// draft sync can never overwrite a finalized answer set.
func (r *AttemptRepository) UpsertAnswers(ctx context.Context, assessmentID uuid.UUID, studentID int, answers map[string]string) error {
	for qid, ans := range answers {
		questionID, err := uuid.Parse(qid)
		if err != nil {
			return fmt.Errorf("invalid question id %q: %w", qid, err)
		}
		if err := r.upsertAnswer(ctx, assessmentID, studentID, questionID, ans); err != nil {
			return err
		}
	}
	return nil
}

func (r *AttemptRepository) upsertAnswer(ctx context.Context, assessmentID uuid.UUID, studentID int, questionID uuid.UUID, answer string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers AS aa (assessment_id, student_id, question_id, answer)
		 SELECT $1, $2, $3, $4
		 WHERE EXISTS (
		     SELECT 1 FROM attempts
		     WHERE assessment_id = $1 AND student_id = $2 AND submitted_at IS NULL
		 )
		 ON CONFLICT (assessment_id, student_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = NOW()
		 WHERE (
		     SELECT submitted_at FROM attempts
		     WHERE assessment_id = aa.assessment_id AND student_id = aa.student_id
		 ) IS NULL`,
		assessmentID, studentID, questionID, answer,
	)
	return err
}

// FinalizeSubmission marks the attempt submitted with its final answers,
// idempotently: the first call wins, later calls observe the stored terminal
// row without touching it. Runs in one transaction with a row lock so
// concurrent submits (timer expiry, user click, second tab) are safe.
func (r *AttemptRepository) FinalizeSubmission(ctx context.Context, assessmentID uuid.UUID, studentID int, answers map[string]string) (*model.Attempt, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var submitted bool
	err = tx.QueryRow(ctx,
		`SELECT submitted_at IS NOT NULL FROM attempts
		 WHERE assessment_id = $1 AND student_id = $2
		 FOR UPDATE`, assessmentID, studentID,
	).Scan(&submitted)
	if err != nil {
		return nil, err
	}

	if !submitted {
		for qid, ans := range answers {
			questionID, parseErr := uuid.Parse(qid)
			if parseErr != nil {
				return nil, fmt.Errorf("invalid question id %q: %w", qid, parseErr)
			}
			if _, err = tx.Exec(ctx,
				`INSERT INTO attempt_answers (assessment_id, student_id, question_id, answer)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (assessment_id, student_id, question_id) DO UPDATE
				 SET answer = EXCLUDED.answer, updated_at = NOW()`,
				assessmentID, studentID, questionID, ans,
			); err != nil {
				return nil, err
			}
		}

		if _, err = tx.Exec(ctx,
			`UPDATE attempts SET submitted_at = NOW()
			 WHERE assessment_id = $1 AND student_id = $2 AND submitted_at IS NULL`,
			assessmentID, studentID,
		); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return r.GetByAssessmentAndStudent(ctx, assessmentID, studentID)
}

// IncrementViolation bumps the monotonic violation counter and returns the
// new value. The counter never moves on a submitted attempt.
func (r *AttemptRepository) IncrementViolation(ctx context.Context, assessmentID uuid.UUID, studentID int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`UPDATE attempts SET violation_count = violation_count + 1
		 WHERE assessment_id = $1 AND student_id = $2 AND submitted_at IS NULL
		 RETURNING violation_count`,
		assessmentID, studentID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal (or absent): report the stored count unchanged.
		getErr := r.pool.QueryRow(ctx,
			`SELECT violation_count FROM attempts
			 WHERE assessment_id = $1 AND student_id = $2`,
			assessmentID, studentID,
		).Scan(&count)
		if getErr != nil {
			return 0, getErr
		}
		return count, nil
	}
	return count, err
}
