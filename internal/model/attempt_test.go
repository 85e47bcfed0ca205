package model

import (
	"testing"
	"time"
)

func TestAttemptRemaining(t *testing.T) {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	a := &Attempt{StartedAt: start}
	d := 30 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"at start", start, 30 * time.Minute},
		{"halfway", start.Add(15 * time.Minute), 15 * time.Minute},
		{"at deadline", start.Add(30 * time.Minute), 0},
		{"past deadline clamps to zero", start.Add(2 * time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Remaining(d, tt.now); got != tt.want {
				t.Errorf("Remaining() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAttemptSubmitted(t *testing.T) {
	a := &Attempt{}
	if a.Submitted() {
		t.Error("Submitted() = true for open attempt")
	}
	now := time.Now()
	a.SubmittedAt = &now
	if !a.Submitted() {
		t.Error("Submitted() = false after submitted_at is set")
	}
}
