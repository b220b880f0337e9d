package port

import (
	"context"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

type LocalCache interface {
	// Load returns the persisted item set, empty when nothing was saved yet
	Load(ctx context.Context) ([]domain.Item, error)

	// Save atomically replaces the whole persisted set
	Save(ctx context.Context, items []domain.Item) error

	Close() error
}
