package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptState enumerates the lifecycle states of an attempt as reported to
// presentation clients. The store only persists the terminal transition
// (submitted_at); the other states are derived.
type AttemptState string

const (
	AttemptStateUninitialized  AttemptState = "UNINITIALIZED"
	AttemptStateNotStarted     AttemptState = "NOT_STARTED"
	AttemptStateResumable      AttemptState = "RESUMABLE"
	AttemptStateInProgress     AttemptState = "IN_PROGRESS"
	AttemptStateSubmitting     AttemptState = "SUBMITTING"
	AttemptStateSubmitted      AttemptState = "SUBMITTED"
	AttemptStateExpiredOffline AttemptState = "EXPIRED_OFFLINE"
)

// TerminalReason explains why an attempt reached a terminal state.
type TerminalReason string

const (
	TerminalSubmitted          TerminalReason = "submitted"
	TerminalTimeout            TerminalReason = "auto_submitted_timeout"
	TerminalViolation          TerminalReason = "auto_submitted_violation"
	TerminalOfflinePendingSync TerminalReason = "offline_timeout_pending_sync"
)

// Attempt is one student's instance of taking an assessment.
// One row per (assessment_id, student_id); started_at is set exactly once by
// the database and is the sole authority for deadline computation.
type Attempt struct {
	ID             uuid.UUID   `json:"id"`
	AssessmentID   uuid.UUID   `json:"assessment_id"`
	StudentID      int         `json:"student_id"`
	StartedAt      time.Time   `json:"started_at"`
	SubmittedAt    *time.Time  `json:"submitted_at,omitempty"`
	ViolationCount int         `json:"violation_count"`
	IsGraded       bool        `json:"is_graded"`
	QuestionOrder  []uuid.UUID `json:"question_order,omitempty"`
	// Answers maps question id to answer text. Keys unique, last write wins.
	Answers map[string]string `json:"answers,omitempty"`
}

// Submitted reports whether the attempt has reached its terminal state.
func (a *Attempt) Submitted() bool {
	return a.SubmittedAt != nil
}

// Deadline returns the fixed expiry instant for the given assessment duration.
func (a *Attempt) Deadline(d time.Duration) time.Time {
	return a.StartedAt.Add(d)
}

// Remaining computes the time left at instant now: max(0, deadline-now).
// Always derived from started_at, never from a decremented counter, so it is
// immune to suspend drift.
func (a *Attempt) Remaining(d time.Duration, now time.Time) time.Duration {
	r := a.Deadline(d).Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// AttemptStateView is the reload/resume payload for presentation clients.
type AttemptStateView struct {
	AssessmentID   uuid.UUID         `json:"assessment_id"`
	StudentID      int               `json:"student_id"`
	State          AttemptState      `json:"state"`
	Answers        map[string]string `json:"answers"`
	AnsweredCount  int               `json:"answered_count"`
	TotalQuestions int               `json:"total_questions"`
	RemainingMs    int64             `json:"remaining_ms"`
	ViolationCount int               `json:"violation_count"`
	QuestionOrder  []uuid.UUID       `json:"question_order,omitempty"`
}

// SubmitAttemptRequest is the payload for an explicit submit.
type SubmitAttemptRequest struct {
	// Answers is the client's full current answer map. Optional: when empty
	// the server submits the merged draft/remote set it already holds.
	Answers map[string]string `json:"answers" binding:"omitempty"`
}

// ViolationReport is the payload for the HTTP violation fallback endpoint.
type ViolationReport struct {
	Kind    string `json:"kind" binding:"required,min=1,max=64"`
	Payload string `json:"payload" binding:"omitempty,max=4096"`
}
