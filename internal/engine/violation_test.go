package engine

import (
	"sync"
	"testing"
)

func TestViolationMonitorInactive(t *testing.T) {
	for _, max := range []int{0, -1} {
		m := NewViolationMonitor(max)
		if m.Active() {
			t.Errorf("Active() = true for max %d, want false", max)
		}
		if m.Crossed(100) {
			t.Errorf("Crossed() = true for inert monitor with max %d", max)
		}
	}
}

func TestViolationMonitorCrossedOnce(t *testing.T) {
	m := NewViolationMonitor(3)

	if m.Crossed(1) || m.Crossed(2) {
		t.Fatal("Crossed() fired below the threshold")
	}
	if !m.Crossed(3) {
		t.Fatal("Crossed() did not fire at the threshold")
	}
	if m.Crossed(3) || m.Crossed(4) {
		t.Fatal("Crossed() fired more than once")
	}
}

func TestViolationMonitorCrossedConcurrent(t *testing.T) {
	m := NewViolationMonitor(1)

	var wg sync.WaitGroup
	fired := make(chan struct{}, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Crossed(1) {
				fired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(fired)

	count := 0
	for range fired {
		count++
	}
	if count != 1 {
		t.Errorf("Crossed() fired %d times under concurrency, want exactly 1", count)
	}
}
