package vectorstore

import (
	"context"
	"sync"
)

// Memory is a process-local Backend.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Record
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Record)}
}

func (m *Memory) Save(_ context.Context, collection string, records []Record) error {
	cp := make([]Record, len(records))
	copy(cp, records)
	m.mu.Lock()
	m.collections[collection] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Records(_ context.Context, collection string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.collections[collection]
	out := make([]Record, len(src))
	copy(out, src)
	return out, nil
}
