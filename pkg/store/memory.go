package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, kind, id string, v any) error {
	data, err := encode(kind, id, v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[kind] == nil {
		m.docs[kind] = make(map[string][]byte)
	}
	m.docs[kind][id] = data
	return nil
}

func (m *Memory) Get(_ context.Context, kind, id string, out any) error {
	m.mu.RLock()
	data, ok := m.docs[kind][id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return decode(kind, id, data, out)
}

// List returns the documents of a kind ordered by id.
func (m *Memory) List(_ context.Context, kind string) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.docs[kind]))
	for id := range m.docs[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, json.RawMessage(m.docs[kind][id]))
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[kind], id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
