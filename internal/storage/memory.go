package storage

import (
	"context"
	"sync"
)

// Memory keeps the last saved snapshot in process memory. It is the fallback
// backend when no durable store can be opened, and a convenient backend for
// tests.
type Memory struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory { return &Memory{snap: &Snapshot{}} }

func (m *Memory) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone(), nil
}

func (m *Memory) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap.Clone()
	return nil
}

func (m *Memory) Durable() bool { return false }
func (m *Memory) Close() error  { return nil }
