package spending

import (
	"context"
	"sync"
)

// Store persists spend windows across restarts. Implementations only need
// to be a dumb keyed map; the Tracker owns all windowing logic and
// serializes access.
type Store interface {
	Load(ctx context.Context, p Period) (Window, bool, error)
	Save(ctx context.Context, p Period, w Window) error
	Close() error
}

// MemoryStore keeps windows in process memory. Used by tests and as the
// fallback when no persistent store is configured.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[Period]Window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[Period]Window)}
}

func (s *MemoryStore) Load(_ context.Context, p Period) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[p]
	return w, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, p Period, w Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[p] = w
	return nil
}

func (s *MemoryStore) Close() error { return nil }
