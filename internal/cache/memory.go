package cache

import (
	"context"
	"sync"
)

// Memory is an in-process Cache used by tests and single-instance runs
// without Redis. Pub/sub works within the process only.
type Memory struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	subs      map[string]map[int]chan PubMessage
	nextSub   int
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		snapshots: make(map[string][]byte),
		subs:      make(map[string]map[int]chan PubMessage),
	}
}

func (m *Memory) SetSnapshot(_ context.Context, boardID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[boardID] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, boardID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.snapshots[boardID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Publish(_ context.Context, boardID string, msg PubMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[boardID] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, boardID string) (<-chan PubMessage, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan PubMessage, 32)
	if m.subs[boardID] == nil {
		m.subs[boardID] = make(map[int]chan PubMessage)
	}
	m.subs[boardID][id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[boardID][id]; ok {
			delete(m.subs[boardID], id)
			close(sub)
		}
	}
}
