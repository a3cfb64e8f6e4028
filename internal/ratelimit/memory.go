package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// MemoryStore keeps windows in process memory. Use it when a single process
// sends all notifications.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

func (m *MemoryStore) Acquire(_ context.Context, key string, now time.Time, cap int, length time.Duration) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= length {
		w = &window{start: now, count: 1}
		m.windows[key] = w
		return Decision{Allowed: true, Remaining: cap - 1, ResetAt: now.Add(length)}, nil
	}

	reset := w.start.Add(length)
	if w.count < cap {
		w.count++
		return Decision{Allowed: true, Remaining: cap - w.count, ResetAt: reset}, nil
	}
	return Decision{Allowed: false, Remaining: 0, ResetAt: reset}, nil
}
