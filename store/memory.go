package store

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
)

// Memory is a Backend that never touches disk. After Fail every
// Save returns the given error wrapped in ErrStorage.
type Memory struct {
	mu        sync.Mutex
	data      map[string]json.RawMessage
	saves     int
	failSaves error
}

func NewMemory() *Memory {
	return &Memory{data: map[string]json.RawMessage{}}
}

func (m *Memory) Load(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.data), nil
}

func (m *Memory) Save(_ context.Context, data map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves != nil {
		return storageErr("save", m.failSaves)
	}
	m.data = maps.Clone(data)
	if m.data == nil {
		m.data = map[string]json.RawMessage{}
	}
	m.saves++
	return nil
}

// Saves reports how many saves succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves = err
}

func (m *Memory) Close() error { return nil }
