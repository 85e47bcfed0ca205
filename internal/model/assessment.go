package model

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentStatus enumerates the possible states of an assessment.
type AssessmentStatus string

const (
	AssessmentStatusDraft     AssessmentStatus = "DRAFT"
	AssessmentStatusPublished AssessmentStatus = "PUBLISHED"
	AssessmentStatusClosed    AssessmentStatus = "CLOSED"
	AssessmentStatusArchived  AssessmentStatus = "ARCHIVED"
)

// Assessment is the immutable definition of a quiz or proctored exam.
// The attempt engine reads it; authoring belongs to an external collaborator.
type Assessment struct {
	ID                 uuid.UUID `json:"id"`
	Title              string    `json:"title"`
	Subject            string    `json:"subject"`
	DurationMinutes    int       `json:"duration_minutes"`
	RandomizeQuestions bool      `json:"randomize_questions"`
	// MaxViolations <= 0 means the assessment is not proctored.
	MaxViolations int              `json:"max_violations"`
	Status        AssessmentStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Duration returns the time limit as a time.Duration.
func (a *Assessment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// Proctored reports whether the violation policy is active for this assessment.
func (a *Assessment) Proctored() bool {
	return a.MaxViolations > 0
}

// AssessmentPayload is the Redis-cached payload sent to students (no answer keys).
type AssessmentPayload struct {
	AssessmentID       uuid.UUID            `json:"assessment_id"`
	Title              string               `json:"title"`
	DurationMinutes    int                  `json:"duration_minutes"`
	RandomizeQuestions bool                 `json:"randomize_questions"`
	MaxViolations      int                  `json:"max_violations"`
	Questions          []QuestionForStudent `json:"questions"`
}
