package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/model"
)

// Domain errors surfaced by the controller and its ports.
var (
	// ErrAttemptNotFound is returned by AttemptStore.Get when no attempt row
	// exists for the (assessment, student) pair.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrAssessmentNotAvailable is returned when the assessment definition is
	// missing or not in a taker-visible status. Fatal at initialization.
	ErrAssessmentNotAvailable = errors.New("assessment is not available")

	// ErrQuestionNotInAssessment is returned by SetAnswer for a question id
	// outside the active assessment's question set.
	ErrQuestionNotInAssessment = errors.New("question does not belong to this assessment")

	// ErrAttemptFinished is returned for answer edits after the terminal state.
	ErrAttemptFinished = errors.New("attempt is already submitted")

	// ErrNotProctored is returned by ReportViolation when the assessment has
	// no violation policy.
	ErrNotProctored = errors.New("assessment is not proctored")

	// ErrControllerClosed is returned when a command is issued after the
	// controller loop has stopped.
	ErrControllerClosed = errors.New("attempt controller is not running")
)

// AttemptStore is the durable record of attempts. Implementations must make
// Create safe under concurrent calls (return the existing row rather than
// erroring) and mark-submitted idempotent (first terminal write wins, later
// ones are no-ops returning the stored row).
type AttemptStore interface {
	Get(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error)
	Create(ctx context.Context, assessmentID uuid.UUID, studentID int) (*model.Attempt, error)
	UpsertAnswers(ctx context.Context, assessmentID uuid.UUID, studentID int, answers map[string]string, submit bool) (*model.Attempt, error)
	IncrementViolation(ctx context.Context, assessmentID uuid.UUID, studentID int) (int, error)
}

// DraftCache is the synchronous resilience buffer for in-progress answers.
// A Write must be durable against process crash before any AttemptStore sync
// happens; Read returns the full draft map for reconciliation on resume.
type DraftCache interface {
	Read(ctx context.Context, assessmentID uuid.UUID, studentID int) (map[string]string, error)
	Write(ctx context.Context, assessmentID uuid.UUID, studentID int, questionID, answer string) error
	Clear(ctx context.Context, assessmentID uuid.UUID, studentID int) error
}

// FinalizeRequest is a terminal submission that could not be delivered to the
// AttemptStore and must be retried out of band.
type FinalizeRequest struct {
	AssessmentID uuid.UUID            `json:"assessment_id"`
	StudentID    int                  `json:"student_id"`
	Answers      map[string]string    `json:"answers"`
	Reason       model.TerminalReason `json:"reason"`
}

// FinalizeQueue accepts terminal submissions for asynchronous delivery once
// the store is reachable again (the EXPIRED_OFFLINE path).
type FinalizeQueue interface {
	Enqueue(ctx context.Context, req FinalizeRequest) error
}

// EventSink receives controller events. All calls happen on the controller's
// own goroutine; implementations must not call back into the controller
// synchronously.
type EventSink interface {
	StateChanged(state model.AttemptState, remaining time.Duration, answered int)
	ResumeOffered(answered, total int, remaining time.Duration)
	Terminal(reason model.TerminalReason, answers map[string]string)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) StateChanged(model.AttemptState, time.Duration, int) {}
func (NopSink) ResumeOffered(int, int, time.Duration)               {}
func (NopSink) Terminal(model.TerminalReason, map[string]string)    {}
