package storage

import (
	"context"
	"sync"

	"github.com/chadiek/historia/internal/conversation"
)

// MemoryHistory is a non-durable history store for local runs.
// It round-trips through the same JSON encoding as the durable stores.
type MemoryHistory struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryHistory() *MemoryHistory { return &MemoryHistory{} }

func (m *MemoryHistory) LoadHistory(_ context.Context) ([]conversation.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decodeHistory(m.data)
}

func (m *MemoryHistory) SaveHistory(_ context.Context, history []conversation.Session) error {
	data, err := encodeHistory(history)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}
