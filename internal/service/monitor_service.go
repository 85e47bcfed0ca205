package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/repository"
)

// MonitorService orchestrates live attempt monitoring business logic.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// StudentProgressSnapshot holds the answered count and violation count for
// every in-progress student.
type StudentProgressSnapshot struct {
	InProgress      []int         // student_id of every unsubmitted attempt
	AnsweredCounts  map[int]int64 // student_id → answered_count
	ViolationCounts map[int]int64 // student_id → violation_count
	TotalViolations int64         // total violations in the assessment
}

// GetStudentProgress returns answered counts and violation counts
// concurrently. It fires the independent data fetches in parallel to
// minimize latency.
func (s *MonitorService) GetStudentProgress(ctx context.Context, assessmentID uuid.UUID) (*StudentProgressSnapshot, error) {
	snapshot := &StudentProgressSnapshot{
		AnsweredCounts:  make(map[int]int64),
		ViolationCounts: make(map[int]int64),
	}

	var (
		inProgress      []int
		answeredCounts  map[int]int64
		violationCounts map[int]int64
		inProgressErr   error
		answeredErr     error
		violationErr    error
		wg              sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		inProgress, inProgressErr = s.monitorRepo.GetInProgressStudentIDs(ctx, assessmentID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		answeredCounts, answeredErr = s.monitorRepo.GetAnsweredCounts(ctx, assessmentID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		violationCounts, violationErr = s.monitorRepo.GetViolationCounts(ctx, assessmentID)
	}()

	wg.Wait()

	// Answered counts and the attempt list are critical; violation counts are
	// best-effort.
	if inProgressErr != nil {
		return nil, inProgressErr
	}
	if answeredErr != nil {
		return nil, answeredErr
	}

	snapshot.InProgress = inProgress
	if answeredCounts != nil {
		snapshot.AnsweredCounts = answeredCounts
	}

	if violationErr == nil && violationCounts != nil {
		snapshot.ViolationCounts = violationCounts
		for _, count := range violationCounts {
			snapshot.TotalViolations += count
		}
	}

	return snapshot, nil
}
