package storage

import (
	"sort"
	"sync"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
)

// mockStore implements Store with in-memory storage, for tests and for
// running the engine without a database.
type mockStore struct {
	mu   sync.Mutex
	runs map[string]models.RunResult
}

// NewMockStore returns an empty in-memory store.
func NewMockStore() Store {
	return &mockStore{runs: make(map[string]models.RunResult)}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveRun(run models.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.RunID] = run
	return nil
}

func (m *mockStore) GetRun(runID string) (models.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return models.RunResult{}, ErrNotFound
	}
	return run, nil
}

func (m *mockStore) ListRuns(limit int) ([]models.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RunResult, 0, len(m.runs))
	for _, run := range m.runs {
		run.Steps = nil
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
