package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/draft"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
)

// fakeAttemptRepo is an in-memory attemptRepository with the real
// repository's idempotent finalize semantics.
type fakeAttemptRepo struct {
	mu        sync.Mutex
	attempt   *model.Attempt
	finalized int
}

func (r *fakeAttemptRepo) GetByAssessmentAndStudent(_ context.Context, _ uuid.UUID, _ int) (*model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil {
		return nil, pgx.ErrNoRows
	}
	return r.copyLocked(), nil
}

func (r *fakeAttemptRepo) Create(_ context.Context, a *model.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt != nil {
		return pgx.ErrNoRows
	}
	a.ID = uuid.New()
	a.StartedAt = time.Now()
	r.attempt = a
	return nil
}

func (r *fakeAttemptRepo) UpsertAnswers(_ context.Context, _ uuid.UUID, _ int, answers map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil || r.attempt.Submitted() {
		return nil
	}
	r.mergeLocked(answers)
	return nil
}

func (r *fakeAttemptRepo) FinalizeSubmission(_ context.Context, _ uuid.UUID, _ int, answers map[string]string) (*model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil {
		return nil, pgx.ErrNoRows
	}
	if !r.attempt.Submitted() {
		r.mergeLocked(answers)
		now := time.Now()
		r.attempt.SubmittedAt = &now
		r.finalized++
	}
	return r.copyLocked(), nil
}

func (r *fakeAttemptRepo) IncrementViolation(_ context.Context, _ uuid.UUID, _ int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt == nil {
		return 0, pgx.ErrNoRows
	}
	if !r.attempt.Submitted() {
		r.attempt.ViolationCount++
	}
	return r.attempt.ViolationCount, nil
}

func (r *fakeAttemptRepo) finalizeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

func (r *fakeAttemptRepo) mergeLocked(answers map[string]string) {
	if r.attempt.Answers == nil {
		r.attempt.Answers = make(map[string]string)
	}
	for q, v := range answers {
		r.attempt.Answers[q] = v
	}
}

func (r *fakeAttemptRepo) copyLocked() *model.Attempt {
	cp := *r.attempt
	cp.Answers = make(map[string]string, len(r.attempt.Answers))
	for q, v := range r.attempt.Answers {
		cp.Answers[q] = v
	}
	return &cp
}

type fakeDefinitions struct {
	assessment *model.Assessment
	questions  []model.Question
}

func (f *fakeDefinitions) GetDefinition(context.Context, uuid.UUID) (*model.Assessment, []model.Question, error) {
	return f.assessment, f.questions, nil
}

// unreachableRedis returns a client whose every command fails fast. The
// service treats Redis as a best-effort fast lane, so all paths under test
// must survive it.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

type attemptServiceFixture struct {
	assessment *model.Assessment
	questions  []model.Question
	repo       *fakeAttemptRepo
	drafts     *draft.Memory
	svc        *AttemptService
	now        time.Time
}

func newAttemptServiceFixture(t *testing.T) *attemptServiceFixture {
	t.Helper()
	assessment := &model.Assessment{
		ID:              uuid.New(),
		Title:           "Ujian Harian Fisika",
		DurationMinutes: 30,
		Status:          model.AssessmentStatusPublished,
	}
	questions := []model.Question{{ID: uuid.New()}, {ID: uuid.New()}}

	f := &attemptServiceFixture{
		assessment: assessment,
		questions:  questions,
		repo:       &fakeAttemptRepo{},
		drafts:     draft.NewMemory(),
		now:        time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
	}

	rdb := unreachableRedis()
	t.Cleanup(func() { rdb.Close() })

	f.svc = NewAttemptService(
		f.repo,
		&fakeDefinitions{assessment: assessment, questions: questions},
		f.drafts,
		rdb,
		zerolog.Nop(),
	)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *attemptServiceFixture) seedAttempt(startedAgo time.Duration, answers map[string]string) {
	f.repo.attempt = &model.Attempt{
		ID:           uuid.New(),
		AssessmentID: f.assessment.ID,
		StudentID:    7,
		StartedAt:    f.now.Add(-startedAgo),
		Answers:      answers,
	}
}

func TestGetStateMergesDraftForRunningAttempt(t *testing.T) {
	f := newAttemptServiceFixture(t)
	q1 := f.questions[0].ID.String()
	q2 := f.questions[1].ID.String()
	f.seedAttempt(5*time.Minute, map[string]string{q1: "A"})

	ctx := context.Background()
	f.drafts.Write(ctx, f.assessment.ID, 7, q1, "B")
	f.drafts.Write(ctx, f.assessment.ID, 7, q2, "C")

	view, err := f.svc.GetState(ctx, f.assessment.ID, 7)
	if err != nil {
		t.Fatalf("GetState() error: %v", err)
	}
	if view.State != model.AttemptStateInProgress {
		t.Errorf("state = %s, want %s", view.State, model.AttemptStateInProgress)
	}
	if want := (25 * time.Minute).Milliseconds(); view.RemainingMs != want {
		t.Errorf("remaining_ms = %d, want %d", view.RemainingMs, want)
	}
	if view.Answers[q1] != "B" || view.Answers[q2] != "C" {
		t.Errorf("merged answers = %v, want draft set", view.Answers)
	}
	if f.repo.finalizeCount() != 0 {
		t.Errorf("finalize count = %d, want 0", f.repo.finalizeCount())
	}
}

func TestGetStateFinalizesExpiredAttempt(t *testing.T) {
	f := newAttemptServiceFixture(t)
	q1 := f.questions[0].ID.String()
	q2 := f.questions[1].ID.String()
	f.seedAttempt(2*time.Hour, map[string]string{q1: "A"})

	ctx := context.Background()
	f.drafts.Write(ctx, f.assessment.ID, 7, q1, "B")
	f.drafts.Write(ctx, f.assessment.ID, 7, q2, "C")

	view, err := f.svc.GetState(ctx, f.assessment.ID, 7)
	if err != nil {
		t.Fatalf("GetState() error: %v", err)
	}
	if view.State != model.AttemptStateSubmitted {
		t.Fatalf("state = %s, want %s", view.State, model.AttemptStateSubmitted)
	}
	if view.RemainingMs != 0 {
		t.Errorf("remaining_ms = %d, want 0", view.RemainingMs)
	}
	if view.Answers[q2] != "C" {
		t.Errorf("draft answer missing from finalized set: %v", view.Answers)
	}
	if f.repo.finalizeCount() != 1 {
		t.Fatalf("finalize count = %d, want 1", f.repo.finalizeCount())
	}
	if d, _ := f.drafts.Read(ctx, f.assessment.ID, 7); len(d) != 0 {
		t.Errorf("draft not cleared after reload finalize: %v", d)
	}

	// A second reload observes the terminal row, no second transition.
	view, err = f.svc.GetState(ctx, f.assessment.ID, 7)
	if err != nil {
		t.Fatalf("GetState() error: %v", err)
	}
	if view.State != model.AttemptStateSubmitted {
		t.Errorf("state = %s, want %s", view.State, model.AttemptStateSubmitted)
	}
	if f.repo.finalizeCount() != 1 {
		t.Errorf("finalize count = %d, want 1", f.repo.finalizeCount())
	}
}
