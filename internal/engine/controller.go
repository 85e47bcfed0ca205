package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
)

// DefaultTick is the countdown recomputation interval.
const DefaultTick = time.Second

// Deps bundles the controller's collaborators.
type Deps struct {
	Store    AttemptStore
	Drafts   DraftCache
	Finalize FinalizeQueue
	Sink     EventSink
	Log      zerolog.Logger

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
	// Tick overrides the countdown interval; zero means DefaultTick.
	Tick time.Duration
}

// Controller owns the lifecycle of a single attempt session: the state
// machine, the countdown, draft/remote reconciliation and the violation
// policy. All mutable state lives on one goroutine (Run); public methods
// deliver commands to that goroutine and wait for the result, so there is no
// internal locking and no true parallelism inside the controller.
type Controller struct {
	assessment *model.Assessment
	studentID  int

	store    AttemptStore
	drafts   DraftCache
	finalize FinalizeQueue
	sink     EventSink
	log      zerolog.Logger

	now  func() time.Time
	tick time.Duration

	cmds   chan func(ctx context.Context)
	closed chan struct{}

	// Loop-owned state. Never touched outside the Run goroutine.
	state      model.AttemptState
	attempt    *model.Attempt
	answers    map[string]string
	questions  map[string]struct{}
	violations *ViolationMonitor

	// pendingReason is set when a deadline/violation submit could not be
	// delivered yet; the tick keeps retrying with the same payload.
	pendingReason model.TerminalReason
	pendingRetry  bool
	timeoutFired  bool
}

// NewController creates a controller for one (assessment, student) session.
// Run must be called before any command method.
func NewController(assessment *model.Assessment, questions []model.Question, studentID int, deps Deps) *Controller {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	tick := deps.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	sink := deps.Sink
	if sink == nil {
		sink = NopSink{}
	}

	qset := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		qset[q.ID.String()] = struct{}{}
	}

	return &Controller{
		assessment: assessment,
		studentID:  studentID,
		store:      deps.Store,
		drafts:     deps.Drafts,
		finalize:   deps.Finalize,
		sink:       sink,
		log: deps.Log.With().
			Str("component", "attempt_controller").
			Str("assessment_id", assessment.ID.String()).
			Int("student_id", studentID).
			Logger(),
		now:        now,
		tick:       tick,
		cmds:       make(chan func(ctx context.Context)),
		closed:     make(chan struct{}),
		state:      model.AttemptStateUninitialized,
		answers:    make(map[string]string),
		questions:  qset,
		violations: NewViolationMonitor(assessment.MaxViolations),
	}
}

// Run initializes the attempt (create or resume) and drives the session loop
// until ctx is cancelled. It returns a non-nil error only for fatal
// initialization failures; a finished attempt is a normal return.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.closed)

	if err := c.initialize(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.cmds:
			fn(ctx)
		case <-ticker.C:
			c.onTick(ctx)
		}
	}
}

// ─── Commands (safe from any goroutine) ─────────────────────────────

// SetAnswer records an answer edit: in-memory state, then the draft cache
// synchronously, then a best-effort async store sync (done by the draft
// adapter's queue). Draft failures are logged and swallowed — the edit is
// never dropped from memory, and the periodic sync retries.
func (c *Controller) SetAnswer(ctx context.Context, questionID, answer string) error {
	return c.do(ctx, func(cmdCtx context.Context) error {
		return c.applyAnswer(cmdCtx, questionID, answer)
	})
}

// Submit performs the user-initiated submit transition. No-op success when
// the attempt is already submitted; on store failure the state stays
// IN_PROGRESS and the error is returned so the user can retry.
func (c *Controller) Submit(ctx context.Context) error {
	return c.do(ctx, func(cmdCtx context.Context) error {
		if c.state == model.AttemptStateSubmitted {
			return nil
		}
		return c.finalizeAttempt(cmdCtx, model.TerminalSubmitted, false)
	})
}

// AcceptResume confirms the resume decision point and enters IN_PROGRESS.
// The countdown is unaffected — it never paused.
func (c *Controller) AcceptResume(ctx context.Context) error {
	return c.do(ctx, func(context.Context) error {
		if c.state == model.AttemptStateResumable {
			c.setState(model.AttemptStateInProgress)
		}
		return nil
	})
}

// ReportViolation increments the violation counter (write-through to the
// store) and returns the new count. The first crossing of the policy
// threshold forces submission exactly once.
func (c *Controller) ReportViolation(ctx context.Context) (int, error) {
	var count int
	err := c.do(ctx, func(cmdCtx context.Context) error {
		if !c.violations.Active() {
			return ErrNotProctored
		}
		if c.state == model.AttemptStateSubmitted {
			count = c.attempt.ViolationCount
			return nil
		}

		n, err := c.store.IncrementViolation(cmdCtx, c.assessment.ID, c.studentID)
		if err != nil {
			// Transient store failure: keep counting locally so the policy
			// still bites while offline.
			c.attempt.ViolationCount++
			n = c.attempt.ViolationCount
			c.log.Warn().Err(err).Int("count", n).Msg("Violation increment fell back to local counter")
		} else {
			c.attempt.ViolationCount = n
		}
		count = n

		if c.violations.Crossed(n) {
			c.log.Info().Int("count", n).Int("max", c.assessment.MaxViolations).
				Msg("Violation threshold reached, forcing submission")
			if err := c.finalizeAttempt(cmdCtx, model.TerminalViolation, true); err != nil {
				c.log.Error().Err(err).Msg("Forced submit failed, queued for retry")
			}
		}
		return nil
	})
	return count, err
}

// ConnectivityRegained re-runs the flush path: pending terminal submissions
// are retried and, for an in-progress attempt, the current answer set is
// re-synced to the store best-effort.
func (c *Controller) ConnectivityRegained(ctx context.Context) error {
	return c.do(ctx, func(cmdCtx context.Context) error {
		switch c.state {
		case model.AttemptStateExpiredOffline:
			return c.finalizeAttempt(cmdCtx, c.pendingReason, true)
		case model.AttemptStateInProgress, model.AttemptStateResumable:
			if len(c.answers) == 0 {
				return nil
			}
			if _, err := c.store.UpsertAnswers(cmdCtx, c.assessment.ID, c.studentID, c.answers, false); err != nil {
				c.log.Warn().Err(err).Msg("Reconnect answer flush failed")
			}
		}
		return nil
	})
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot(ctx context.Context) (*model.AttemptStateView, error) {
	var view *model.AttemptStateView
	err := c.do(ctx, func(context.Context) error {
		answers := make(map[string]string, len(c.answers))
		for k, v := range c.answers {
			answers[k] = v
		}
		view = &model.AttemptStateView{
			AssessmentID:   c.assessment.ID,
			StudentID:      c.studentID,
			State:          c.state,
			Answers:        answers,
			AnsweredCount:  AnsweredCount(answers),
			TotalQuestions: len(c.questions),
			RemainingMs:    c.remaining().Milliseconds(),
			ViolationCount: c.attempt.ViolationCount,
			QuestionOrder:  c.attempt.QuestionOrder,
		}
		return nil
	})
	return view, err
}

// do delivers fn to the Run goroutine and waits for its result.
func (c *Controller) do(ctx context.Context, fn func(context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- func(cmdCtx context.Context) { reply <- fn(cmdCtx) }:
	case <-c.closed:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.closed:
		return ErrControllerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Loop internals ─────────────────────────────────────────────────

// initialize resolves the attempt record: create-if-absent on first entry,
// resume (with draft/remote reconciliation) on re-entry, immediate finalizing
// submit when the deadline already passed while the student was away.
func (c *Controller) initialize(ctx context.Context) error {
	if c.assessment.Status != model.AssessmentStatusPublished {
		return ErrAssessmentNotAvailable
	}

	attempt, err := c.store.Get(ctx, c.assessment.ID, c.studentID)
	switch {
	case errors.Is(err, ErrAttemptNotFound):
		attempt, err = c.store.Create(ctx, c.assessment.ID, c.studentID)
		if err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		c.attempt = attempt
		c.setState(model.AttemptStateInProgress)
		return nil

	case err != nil:
		return fmt.Errorf("load attempt: %w", err)
	}

	c.attempt = attempt

	if attempt.Submitted() || attempt.IsGraded {
		// Terminal and immutable; nothing left for this session to do.
		c.state = model.AttemptStateSubmitted
		if attempt.Answers != nil {
			c.answers = attempt.Answers
		}
		c.sink.Terminal(model.TerminalSubmitted, attempt.Answers)
		return nil
	}

	draft, err := c.drafts.Read(ctx, c.assessment.ID, c.studentID)
	if err != nil {
		c.log.Warn().Err(err).Msg("Draft read failed, resuming from store answers only")
		draft = nil
	}
	c.answers = Merge(attempt.Answers, draft)

	remaining := c.remaining()
	if remaining == 0 {
		// Deadline passed while the student was away: finalize with the best
		// available answer set, no prompt.
		c.timeoutFired = true
		if err := c.finalizeAttempt(ctx, model.TerminalTimeout, true); err != nil {
			c.log.Warn().Err(err).Msg("Finalizing submit deferred to retry")
		}
		return nil
	}

	c.setState(model.AttemptStateResumable)
	c.sink.ResumeOffered(AnsweredCount(c.answers), len(c.questions), remaining)
	return nil
}

func (c *Controller) applyAnswer(ctx context.Context, questionID, answer string) error {
	switch c.state {
	case model.AttemptStateSubmitted, model.AttemptStateSubmitting, model.AttemptStateExpiredOffline:
		return ErrAttemptFinished
	case model.AttemptStateResumable:
		// Typing is an implicit resume.
		c.setState(model.AttemptStateInProgress)
	}

	if _, ok := c.questions[questionID]; !ok {
		return ErrQuestionNotInAssessment
	}

	c.answers[questionID] = answer

	// Synchronous draft write first — this is the resilience backstop. The
	// draft adapter also queues the best-effort store sync.
	if err := c.drafts.Write(ctx, c.assessment.ID, c.studentID, questionID, answer); err != nil {
		c.log.Warn().Err(err).Str("question_id", questionID).Msg("Draft write failed")
	}

	c.emitState()
	return nil
}

// finalizeAttempt runs the submit transition. auto marks system-triggered
// submissions (timeout, violation, reconnect retry): their failures are not
// surfaced but queued for out-of-band delivery instead.
func (c *Controller) finalizeAttempt(ctx context.Context, reason model.TerminalReason, auto bool) error {
	prev := c.state
	c.setState(model.AttemptStateSubmitting)

	attempt, err := c.store.UpsertAnswers(ctx, c.assessment.ID, c.studentID, c.answers, true)
	if err == nil {
		c.attempt = attempt
		if err := c.drafts.Clear(ctx, c.assessment.ID, c.studentID); err != nil {
			c.log.Warn().Err(err).Msg("Draft clear failed after submit")
		}
		c.pendingRetry = false
		c.setState(model.AttemptStateSubmitted)
		c.sink.Terminal(reason, c.answers)
		return nil
	}

	if !auto {
		// User-initiated: surface and let them retry.
		c.setState(prev)
		return fmt.Errorf("submit attempt: %w", err)
	}

	// A failed retry from EXPIRED_OFFLINE keeps the queue entry it already
	// has; re-enqueueing would duplicate the request.
	if prev == model.AttemptStateExpiredOffline {
		c.state = model.AttemptStateExpiredOffline
		return nil
	}

	// Deadline/violation path: the payload must survive. Queue it durably and
	// report the offline-pending terminal state; the finalize worker delivers
	// it once the store is reachable again.
	c.pendingReason = reason
	qErr := c.finalize.Enqueue(ctx, FinalizeRequest{
		AssessmentID: c.assessment.ID,
		StudentID:    c.studentID,
		Answers:      c.answers,
		Reason:       reason,
	})
	if qErr != nil {
		// Even the queue is unreachable: keep retrying from the tick.
		c.log.Error().Err(qErr).Msg("Finalize enqueue failed, will retry")
		c.pendingRetry = true
		c.setState(prev)
		return fmt.Errorf("submit attempt: %w", err)
	}

	if c.state != model.AttemptStateExpiredOffline {
		c.state = model.AttemptStateExpiredOffline
		c.sink.Terminal(model.TerminalOfflinePendingSync, c.answers)
	}
	return nil
}

// onTick recomputes remaining time from the authoritative start instant and
// fires the timeout transition exactly once.
func (c *Controller) onTick(ctx context.Context) {
	switch c.state {
	case model.AttemptStateSubmitted, model.AttemptStateExpiredOffline:
		return
	}

	if c.pendingRetry {
		c.pendingRetry = false
		if err := c.finalizeAttempt(ctx, c.pendingReason, true); err != nil {
			c.log.Warn().Err(err).Msg("Finalize retry failed")
		}
		return
	}

	remaining := c.remaining()
	if remaining == 0 {
		if !c.timeoutFired {
			c.timeoutFired = true
			if err := c.finalizeAttempt(ctx, model.TerminalTimeout, true); err != nil {
				c.log.Warn().Err(err).Msg("Timeout submit failed, will retry")
			}
		}
		return
	}

	c.emitState()
}

func (c *Controller) remaining() time.Duration {
	if c.attempt == nil {
		return 0
	}
	return c.attempt.Remaining(c.assessment.Duration(), c.now())
}

func (c *Controller) setState(s model.AttemptState) {
	c.state = s
	c.emitState()
}

func (c *Controller) emitState() {
	c.sink.StateChanged(c.state, c.remaining(), AnsweredCount(c.answers))
}
