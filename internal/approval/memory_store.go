package approval

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory approval store for demo/development mode.
type MemoryStore struct {
	requests map[string]*Request
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Transition(ctx context.Context, r *Request, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.requests[r.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return ErrInvalidState
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context, f Filter) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Request
	for _, r := range m.requests {
		if r.Status != StatusPending {
			continue
		}
		if f.Priority != "" && r.Priority != f.Priority {
			continue
		}
		if f.AgentID != "" && r.AgentID != f.AgentID {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Request
	for _, r := range m.requests {
		if r.Status == StatusPending && r.ExpiresAt.Before(before) {
			cp := *r
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[Status]int)
	for _, r := range m.requests {
		counts[r.Status]++
	}
	return counts, nil
}
