package port

import (
	"context"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

type RemoteStore interface {
	// Fetch returns every row of resource, loosely typed as the store sent it
	Fetch(ctx context.Context, resource string) ([]map[string]any, error)

	// Append adds one row
	Append(ctx context.Context, resource string, row domain.Row) error

	// Update replaces the row(s) whose id matches
	Update(ctx context.Context, resource, id string, row domain.Row) error

	// Delete removes the row(s) whose id matches
	Delete(ctx context.Context, resource, id string) error
}
