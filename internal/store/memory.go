package store

import (
	"context"
	"sync"

	"ttsengine/internal/state"
)

// Memory is the reference in-memory store. Each instance is independent, so
// tests can create as many as they need.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*state.Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*state.Record),
	}
}

// Get returns a copy of the record for a job id.
func (m *Memory) Get(ctx context.Context, jobID string) (*state.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Put stores a copy of the record.
func (m *Memory) Put(ctx context.Context, rec *state.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[rec.JobID] = rec.Clone()
	return nil
}

// PutIfAbsent stores a copy of the record unless one already exists.
func (m *Memory) PutIfAbsent(ctx context.Context, rec *state.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[rec.JobID]; ok {
		return false, nil
	}
	m.jobs[rec.JobID] = rec.Clone()
	return true, nil
}

// Delete evicts a record.
func (m *Memory) Delete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

// IDs returns the job ids currently held.
func (m *Memory) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids, nil
}

var _ Store = (*Memory)(nil)
