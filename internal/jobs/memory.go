package jobs

import (
	"context"
	"sync"
)

// MemoryStore keeps jobs in process memory. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (m *MemoryStore) Save(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.Key] = job
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[key]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}
