package roster

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps the roster in memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]InstalledLiveActivity
}

// NewMemoryRepository creates an empty in-memory roster.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]InstalledLiveActivity)}
}

// Get returns the record for uuid.
func (m *MemoryRepository) Get(ctx context.Context, uuid string) (InstalledLiveActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[uuid]
	if !ok {
		return InstalledLiveActivity{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns all records sorted by uuid.
func (m *MemoryRepository) List(ctx context.Context) ([]InstalledLiveActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedCopy(m.records), nil
}

// Put stores rec, replacing any record with the same uuid.
func (m *MemoryRepository) Put(ctx context.Context, rec InstalledLiveActivity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UUID] = rec.Clone()
	return nil
}

// Delete removes the record and reports whether it existed.
func (m *MemoryRepository) Delete(ctx context.Context, uuid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[uuid]
	delete(m.records, uuid)
	return ok, nil
}

// Update applies fn under the write lock.
func (m *MemoryRepository) Update(ctx context.Context, uuid string, fn func(*InstalledLiveActivity) error) (InstalledLiveActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[uuid]
	if !ok {
		return InstalledLiveActivity{}, ErrNotFound
	}
	rec = rec.Clone()
	if err := fn(&rec); err != nil {
		return InstalledLiveActivity{}, err
	}
	rec.UUID = uuid
	m.records[uuid] = rec
	return rec.Clone(), nil
}

func sortedCopy(records map[string]InstalledLiveActivity) []InstalledLiveActivity {
	out := make([]InstalledLiveActivity, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}
