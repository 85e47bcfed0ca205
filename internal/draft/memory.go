package draft

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/engine"
)

// Memory is an in-memory draft cache used by engine tests.
type Memory struct {
	mu     sync.Mutex
	drafts map[string]map[string]string
}

// NewMemory creates an empty in-memory draft cache.
func NewMemory() *Memory {
	return &Memory{drafts: make(map[string]map[string]string)}
}

var _ engine.DraftCache = (*Memory)(nil)

func (m *Memory) key(assessmentID uuid.UUID, studentID int) string {
	return fmt.Sprintf("%s:%d", assessmentID, studentID)
}

func (m *Memory) Read(_ context.Context, assessmentID uuid.UUID, studentID int) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.drafts[m.key(assessmentID, studentID)] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Write(_ context.Context, assessmentID uuid.UUID, studentID int, questionID, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(assessmentID, studentID)
	if m.drafts[k] == nil {
		m.drafts[k] = make(map[string]string)
	}
	m.drafts[k][questionID] = answer
	return nil
}

func (m *Memory) Clear(_ context.Context, assessmentID uuid.UUID, studentID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, m.key(assessmentID, studentID))
	return nil
}
