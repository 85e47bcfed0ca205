package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/draft"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/engine"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
)

const testStudentID = 7

// fakeStore is an in-memory engine.AttemptStore with a switchable failure
// mode for the submit transition.
type fakeStore struct {
	mu         sync.Mutex
	attempt    *model.Attempt
	failSubmit bool
	submits    int
	clock      func() time.Time
}

func newFakeStore(clock func() time.Time) *fakeStore {
	return &fakeStore{clock: clock}
}

func (s *fakeStore) Get(_ context.Context, _ uuid.UUID, _ int) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil {
		return nil, engine.ErrAttemptNotFound
	}
	return copyAttempt(s.attempt), nil
}

func (s *fakeStore) Create(_ context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil {
		s.attempt = &model.Attempt{
			ID:           uuid.New(),
			AssessmentID: assessmentID,
			StudentID:    studentID,
			StartedAt:    s.clock(),
			Answers:      make(map[string]string),
		}
	}
	return copyAttempt(s.attempt), nil
}

func (s *fakeStore) UpsertAnswers(_ context.Context, _ uuid.UUID, _ int, answers map[string]string, submit bool) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if submit && s.failSubmit {
		return nil, errors.New("store unreachable")
	}
	if s.attempt == nil {
		return nil, engine.ErrAttemptNotFound
	}
	if s.attempt.SubmittedAt == nil {
		if s.attempt.Answers == nil {
			s.attempt.Answers = make(map[string]string)
		}
		for q, a := range answers {
			s.attempt.Answers[q] = a
		}
		if submit {
			now := s.clock()
			s.attempt.SubmittedAt = &now
			s.submits++
		}
	}
	return copyAttempt(s.attempt), nil
}

func (s *fakeStore) IncrementViolation(_ context.Context, _ uuid.UUID, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt == nil {
		return 0, engine.ErrAttemptNotFound
	}
	if s.attempt.SubmittedAt == nil {
		s.attempt.ViolationCount++
	}
	return s.attempt.ViolationCount, nil
}

func (s *fakeStore) setFailSubmit(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubmit = fail
}

func (s *fakeStore) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

func (s *fakeStore) seed(a *model.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = a
}

func copyAttempt(a *model.Attempt) *model.Attempt {
	out := *a
	out.Answers = make(map[string]string, len(a.Answers))
	for q, v := range a.Answers {
		out.Answers[q] = v
	}
	return &out
}

// fakeQueue records finalize requests; fail makes Enqueue error out.
type fakeQueue struct {
	mu   sync.Mutex
	reqs []engine.FinalizeRequest
	fail bool
}

func (q *fakeQueue) Enqueue(_ context.Context, req engine.FinalizeRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("queue unreachable")
	}
	q.reqs = append(q.reqs, req)
	return nil
}

func (q *fakeQueue) requests() []engine.FinalizeRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]engine.FinalizeRequest, len(q.reqs))
	copy(out, q.reqs)
	return out
}

// recordSink forwards terminal/resume events to channels so tests can wait
// for them without polling.
type recordSink struct {
	terminals chan model.TerminalReason
	resumes   chan int
}

func newRecordSink() *recordSink {
	return &recordSink{
		terminals: make(chan model.TerminalReason, 8),
		resumes:   make(chan int, 8),
	}
}

func (s *recordSink) StateChanged(model.AttemptState, time.Duration, int) {}

func (s *recordSink) ResumeOffered(answered, _ int, _ time.Duration) {
	s.resumes <- answered
}

func (s *recordSink) Terminal(reason model.TerminalReason, _ map[string]string) {
	s.terminals <- reason
}

func (s *recordSink) waitTerminal(t *testing.T) model.TerminalReason {
	t.Helper()
	select {
	case reason := <-s.terminals:
		return reason
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal event")
		return ""
	}
}

// fakeClock is a settable test clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testAssessment(maxViolations int) *model.Assessment {
	return &model.Assessment{
		ID:              uuid.New(),
		Title:           "Ujian Tengah Semester",
		DurationMinutes: 30,
		MaxViolations:   maxViolations,
		Status:          model.AssessmentStatusPublished,
	}
}

func testQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:           uuid.New(),
			QuestionType: model.QuestionTypeMultipleChoice,
			OrderNum:     i + 1,
		}
	}
	return qs
}

type fixture struct {
	assessment *model.Assessment
	questions  []model.Question
	store      *fakeStore
	drafts     *draft.Memory
	queue      *fakeQueue
	sink       *recordSink
	clock      *fakeClock
}

func newFixture(maxViolations int) *fixture {
	clock := newFakeClock()
	return &fixture{
		assessment: testAssessment(maxViolations),
		questions:  testQuestions(3),
		store:      newFakeStore(clock.Now),
		drafts:     draft.NewMemory(),
		queue:      &fakeQueue{},
		sink:       newRecordSink(),
		clock:      clock,
	}
}

func (f *fixture) start(t *testing.T) *engine.Controller {
	t.Helper()
	ctrl := engine.NewController(f.assessment, f.questions, testStudentID, engine.Deps{
		Store:    f.store,
		Drafts:   f.drafts,
		Finalize: f.queue,
		Sink:     f.sink,
		Log:      zerolog.Nop(),
		Now:      f.clock.Now,
		Tick:     5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})
	return ctrl
}

func (f *fixture) seedAttempt(startedAgo time.Duration, answers map[string]string) {
	if answers == nil {
		answers = make(map[string]string)
	}
	f.store.seed(&model.Attempt{
		ID:           uuid.New(),
		AssessmentID: f.assessment.ID,
		StudentID:    testStudentID,
		StartedAt:    f.clock.Now().Add(-startedAgo),
		Answers:      answers,
	})
}

func TestFirstEntryCreatesAttempt(t *testing.T) {
	f := newFixture(0)
	ctrl := f.start(t)

	view, err := ctrl.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if view.State != model.AttemptStateInProgress {
		t.Errorf("state = %s, want %s", view.State, model.AttemptStateInProgress)
	}
	if view.AnsweredCount != 0 {
		t.Errorf("answered count = %d, want 0", view.AnsweredCount)
	}
	if view.RemainingMs <= 0 {
		t.Errorf("remaining = %d, want > 0", view.RemainingMs)
	}
}

func TestResumeOffersDecisionPoint(t *testing.T) {
	f := newFixture(0)
	q := f.questions

	// Store lags behind the draft: one synced answer vs two local ones.
	f.seedAttempt(5*time.Minute, map[string]string{q[0].ID.String(): "A"})
	ctx := context.Background()
	f.drafts.Write(ctx, f.assessment.ID, testStudentID, q[0].ID.String(), "B")
	f.drafts.Write(ctx, f.assessment.ID, testStudentID, q[1].ID.String(), "C")

	ctrl := f.start(t)

	select {
	case answered := <-f.sink.resumes:
		if answered != 2 {
			t.Errorf("resume offered with %d answers, want 2", answered)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resume offer")
	}

	view, err := ctrl.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if view.State != model.AttemptStateResumable {
		t.Fatalf("state = %s, want %s", view.State, model.AttemptStateResumable)
	}
	if view.Answers[q[0].ID.String()] != "B" {
		t.Errorf("draft answer lost in merge: got %q, want %q", view.Answers[q[0].ID.String()], "B")
	}

	if err := ctrl.AcceptResume(ctx); err != nil {
		t.Fatalf("AcceptResume() error: %v", err)
	}
	view, _ = ctrl.Snapshot(ctx)
	if view.State != model.AttemptStateInProgress {
		t.Errorf("state after resume = %s, want %s", view.State, model.AttemptStateInProgress)
	}
}

func TestAlreadySubmittedAttemptIsImmutable(t *testing.T) {
	f := newFixture(0)
	f.seedAttempt(5*time.Minute, map[string]string{f.questions[0].ID.String(): "A"})
	submittedAt := f.clock.Now().Add(-time.Minute)
	f.store.attempt.SubmittedAt = &submittedAt

	ctrl := f.start(t)

	if reason := f.sink.waitTerminal(t); reason != model.TerminalSubmitted {
		t.Errorf("terminal reason = %s, want %s", reason, model.TerminalSubmitted)
	}

	err := ctrl.SetAnswer(context.Background(), f.questions[1].ID.String(), "B")
	if !errors.Is(err, engine.ErrAttemptFinished) {
		t.Errorf("SetAnswer() error = %v, want ErrAttemptFinished", err)
	}
	if f.store.submitCount() != 0 {
		t.Errorf("submit count = %d, want 0", f.store.submitCount())
	}
}

func TestSetAnswerRejectsForeignQuestion(t *testing.T) {
	f := newFixture(0)
	ctrl := f.start(t)

	err := ctrl.SetAnswer(context.Background(), uuid.New().String(), "A")
	if !errors.Is(err, engine.ErrQuestionNotInAssessment) {
		t.Errorf("SetAnswer() error = %v, want ErrQuestionNotInAssessment", err)
	}
}

func TestSubmitPersistsAndIsIdempotent(t *testing.T) {
	f := newFixture(0)
	ctrl := f.start(t)
	ctx := context.Background()

	qid := f.questions[0].ID.String()
	if err := ctrl.SetAnswer(ctx, qid, "jawaban"); err != nil {
		t.Fatalf("SetAnswer() error: %v", err)
	}
	if err := ctrl.Submit(ctx); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if reason := f.sink.waitTerminal(t); reason != model.TerminalSubmitted {
		t.Errorf("terminal reason = %s, want %s", reason, model.TerminalSubmitted)
	}

	if err := ctrl.Submit(ctx); err != nil {
		t.Errorf("second Submit() error = %v, want nil", err)
	}
	if got := f.store.submitCount(); got != 1 {
		t.Errorf("submit count = %d, want 1", got)
	}

	if f.store.attempt.Answers[qid] != "jawaban" {
		t.Errorf("persisted answer = %q, want %q", f.store.attempt.Answers[qid], "jawaban")
	}

	drafts, _ := f.drafts.Read(ctx, f.assessment.ID, testStudentID)
	if len(drafts) != 0 {
		t.Errorf("draft not cleared after submit: %v", drafts)
	}
}

func TestSubmitFailureKeepsSessionAlive(t *testing.T) {
	f := newFixture(0)
	ctrl := f.start(t)
	ctx := context.Background()

	f.store.setFailSubmit(true)
	if err := ctrl.Submit(ctx); err == nil {
		t.Fatal("Submit() error = nil, want store failure")
	}

	view, _ := ctrl.Snapshot(ctx)
	if view.State != model.AttemptStateInProgress {
		t.Fatalf("state after failed submit = %s, want %s", view.State, model.AttemptStateInProgress)
	}

	f.store.setFailSubmit(false)
	if err := ctrl.Submit(ctx); err != nil {
		t.Fatalf("retry Submit() error: %v", err)
	}
	if reason := f.sink.waitTerminal(t); reason != model.TerminalSubmitted {
		t.Errorf("terminal reason = %s, want %s", reason, model.TerminalSubmitted)
	}
}

func TestConcurrentSubmitsSingleEffect(t *testing.T) {
	f := newFixture(0)
	ctrl := f.start(t)
	ctx := context.Background()

	if err := ctrl.SetAnswer(ctx, f.questions[0].ID.String(), "A"); err != nil {
		t.Fatalf("SetAnswer() error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ctrl.Submit(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Submit() error: %v", err)
		}
	}
	if got := f.store.submitCount(); got != 1 {
		t.Errorf("submit count = %d, want 1", got)
	}
	if reason := f.sink.waitTerminal(t); reason != model.TerminalSubmitted {
		t.Errorf("terminal reason = %s, want %s", reason, model.TerminalSubmitted)
	}
	select {
	case reason := <-f.sink.terminals:
		t.Errorf("unexpected extra terminal event: %s", reason)
	default:
	}
}

func TestExpiredDeadlineFinalizesOnEntry(t *testing.T) {
	f := newFixture(0)
	f.seedAttempt(2*time.Hour, map[string]string{f.questions[0].ID.String(): "A"})

	f.start(t)

	if reason := f.sink.waitTerminal(t); reason != model.TerminalTimeout {
		t.Errorf("terminal reason = %s, want %s", reason, model.TerminalTimeout)
	}
	if got := f.store.submitCount(); got != 1 {
		t.Errorf("submit count = %d, want 1", got)
	}
}

func TestExpiredOfflineQueuesFinalize(t *testing.T) {
	f := newFixture(0)
	f.seedAttempt(2*time.Hour, map[string]string{f.questions[0].ID.String(): "A"})
	f.store.setFailSubmit(true)

	ctrl := f.start(t)

	if reason := f.sink.waitTerminal(t); reason != model.TerminalOfflinePendingSync {
		t.Fatalf("terminal reason = %s, want %s", reason, model.TerminalOfflinePendingSync)
	}

	ctx := context.Background()
	view, _ := ctrl.Snapshot(ctx)
	if view.State != model.AttemptStateExpiredOffline {
		t.Fatalf("state = %s, want %s", view.State, model.AttemptStateExpiredOffline)
	}

	reqs := f.queue.requests()
	if len(reqs) != 1 {
		t.Fatalf("queued requests = %d, want 1", len(reqs))
	}
	if reqs[0].Reason != model.TerminalTimeout {
		t.Errorf("queued reason = %s, want %s", reqs[0].Reason, model.TerminalTimeout)
	}
	if reqs[0].Answers[f.questions[0].ID.String()] != "A" {
		t.Error("queued request is missing the answer payload")
	}

	// Connectivity returns: the pending submission is delivered directly.
	f.store.setFailSubmit(false)
	if err := ctrl.ConnectivityRegained(ctx); err != nil {
		t.Fatalf("ConnectivityRegained() error: %v", err)
	}
	if reason := f.sink.waitTerminal(t); reason != model.TerminalTimeout {
		t.Errorf("terminal reason after reconnect = %s, want %s", reason, model.TerminalTimeout)
	}
	if got := f.store.submitCount(); got != 1 {
		t.Errorf("submit count = %d, want 1", got)
	}
}

func TestOfflineRetryKeepsSingleQueueEntry(t *testing.T) {
	f := newFixture(0)
	f.seedAttempt(2*time.Hour, map[string]string{f.questions[0].ID.String(): "A"})
	f.store.setFailSubmit(true)

	ctrl := f.start(t)

	if reason := f.sink.waitTerminal(t); reason != model.TerminalOfflinePendingSync {
		t.Fatalf("terminal reason = %s, want %s", reason, model.TerminalOfflinePendingSync)
	}

	// Store still down: repeated reconnect attempts must not grow the queue.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := ctrl.ConnectivityRegained(ctx); err != nil {
			t.Fatalf("ConnectivityRegained() error: %v", err)
		}
	}

	if got := len(f.queue.requests()); got != 1 {
		t.Fatalf("queued requests = %d, want 1", got)
	}
	view, _ := ctrl.Snapshot(ctx)
	if view.State != model.AttemptStateExpiredOffline {
		t.Errorf("state = %s, want %s", view.State, model.AttemptStateExpiredOffline)
	}
	select {
	case reason := <-f.sink.terminals:
		t.Errorf("unexpected extra terminal event: %s", reason)
	default:
	}
}

func TestTimeoutDuringSessionFiresOnce(t *testing.T) {
	f := newFixture(0)
	ctrl := f.start(t)
	ctx := context.Background()

	if err := ctrl.SetAnswer(ctx, f.questions[0].ID.String(), "A"); err != nil {
		t.Fatalf("SetAnswer() error: %v", err)
	}

	f.clock.Advance(time.Hour)

	if reason := f.sink.waitTerminal(t); reason != model.TerminalTimeout {
		t.Errorf("terminal reason = %s, want %s", reason, model.TerminalTimeout)
	}

	// Let a few more ticks pass; the transition must not repeat.
	time.Sleep(50 * time.Millisecond)
	if got := f.store.submitCount(); got != 1 {
		t.Errorf("submit count = %d, want 1", got)
	}
	select {
	case reason := <-f.sink.terminals:
		t.Errorf("unexpected extra terminal event: %s", reason)
	default:
	}
}

func TestViolationThresholdForcesSubmissionOnce(t *testing.T) {
	f := newFixture(2)
	ctrl := f.start(t)
	ctx := context.Background()

	count, err := ctrl.ReportViolation(ctx)
	if err != nil {
		t.Fatalf("ReportViolation() error: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if f.store.submitCount() != 0 {
		t.Error("forced submit fired below the threshold")
	}

	count, err = ctrl.ReportViolation(ctx)
	if err != nil {
		t.Fatalf("ReportViolation() error: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if reason := f.sink.waitTerminal(t); reason != model.TerminalViolation {
		t.Errorf("terminal reason = %s, want %s", reason, model.TerminalViolation)
	}
	if got := f.store.submitCount(); got != 1 {
		t.Fatalf("submit count = %d, want 1", got)
	}

	// Late event after the terminal state: counted nowhere, submitted nowhere.
	if _, err := ctrl.ReportViolation(ctx); err != nil {
		t.Fatalf("ReportViolation() after terminal error: %v", err)
	}
	if got := f.store.submitCount(); got != 1 {
		t.Errorf("submit count after extra violation = %d, want 1", got)
	}
}

func TestViolationOnUnproctoredAssessment(t *testing.T) {
	f := newFixture(0)
	ctrl := f.start(t)

	_, err := ctrl.ReportViolation(context.Background())
	if !errors.Is(err, engine.ErrNotProctored) {
		t.Errorf("ReportViolation() error = %v, want ErrNotProctored", err)
	}
}
