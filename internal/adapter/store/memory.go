package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"imgsearch/internal/port"
)

// MemorySnapshotter keeps the snapshot in process memory.
type MemorySnapshotter struct {
	mu     sync.RWMutex
	data   []byte
	exists bool
	writes int
}

var _ port.Snapshotter = (*MemorySnapshotter)(nil)

func NewMemorySnapshotter() *MemorySnapshotter {
	return &MemorySnapshotter{}
}

// NewMemorySnapshotterWith returns a snapshotter pre-loaded with data.
func NewMemorySnapshotterWith(data []byte) *MemorySnapshotter {
	return &MemorySnapshotter{data: append([]byte(nil), data...), exists: true}
}

func (m *MemorySnapshotter) Location() string {
	return "memory"
}

func (m *MemorySnapshotter) Read(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.exists {
		return nil, fmt.Errorf("memory snapshot: %w", os.ErrNotExist)
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemorySnapshotter) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.exists = true
	m.writes++
	return nil
}

// Writes returns how many snapshots were written.
func (m *MemorySnapshotter) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
