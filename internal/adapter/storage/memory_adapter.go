package storage

import (
	"context"
	"sync"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

// MemoryAdapter stores an encoded copy so callers never share slices with it.
type MemoryAdapter struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{}
}

func (m *MemoryAdapter) Load(ctx context.Context) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return decodeItems(m.data)
}

func (m *MemoryAdapter) Save(ctx context.Context, items []domain.Item) error {
	data, err := encodeItems(items)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) Close() error {
	return nil
}
