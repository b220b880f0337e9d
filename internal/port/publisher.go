package port

import (
	"context"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

type SnapshotPublisher interface {
	// Publish pushes the full item set downstream after a detected change
	Publish(ctx context.Context, items []domain.Item) error

	Close() error
}
