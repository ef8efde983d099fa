// Package kv provides the key-value backends session state is persisted to.
package kv

import (
	"context"
	"sync"

	"github.com/dontdude/pystudio/internal/domain"
)

// Memory is a process-local KV. It is the default store and the one tests use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ domain.KV = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
