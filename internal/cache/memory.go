package cache

import (
	"context"
	"sync"
	"time"

	"pivotscope/internal/analysis/pivots"
)

// Memory is an in-process cache. Entries are copied on the way in and out
// so concurrent analyses never share a table.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates a memory cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		entries: make(map[Key]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for TTL checks.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key Key) (*Entry, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !e.Fresh(m.now(), m.ttl) {
		return nil, nil
	}
	out := cloneEntry(e)
	return &out, nil
}

func (m *Memory) Set(_ context.Context, key Key, entry Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = m.now()
	}
	m.mu.Lock()
	m.entries[key] = cloneEntry(entry)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Purge(_ context.Context, symbol string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.entries {
		if symbol == "" || k.Symbol == symbol {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

func cloneEntry(e Entry) Entry {
	rows := make([]pivots.Row, len(e.Table.Rows))
	copy(rows, e.Table.Rows)
	e.Table.Rows = rows
	return e
}
