package engine

import "sync/atomic"

// ViolationMonitor tracks the proctoring policy threshold for one attempt.
// Crossed uses a single in-flight latch so rapid repeated violations firing
// before the first forced submit completes trigger it exactly once.
type ViolationMonitor struct {
	max   int
	fired atomic.Bool
}

// NewViolationMonitor creates a monitor for the given policy threshold.
// max <= 0 means the assessment is not proctored and the monitor is inert.
func NewViolationMonitor(max int) *ViolationMonitor {
	return &ViolationMonitor{max: max}
}

// Active reports whether a violation policy applies.
func (m *ViolationMonitor) Active() bool {
	return m.max > 0
}

// Crossed reports whether count has reached the threshold for the first
// time. Only the first crossing returns true.
func (m *ViolationMonitor) Crossed(count int) bool {
	if !m.Active() || count < m.max {
		return false
	}
	return m.fired.CompareAndSwap(false, true)
}
