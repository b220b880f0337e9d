package remote

import (
	"context"
	"net/http"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

type condition struct {
	ID string `json:"id"`
}

type updateBody struct {
	Condition condition  `json:"condition"`
	Set       domain.Row `json:"set"`
}

type deleteBody struct {
	Condition condition `json:"condition"`
}

// SheetStore maps row operations onto the remote store's HTTP verbs.
type SheetStore struct {
	client *Client
}

func NewSheetStore(client *Client) *SheetStore {
	return &SheetStore{client: client}
}

func (s *SheetStore) Fetch(ctx context.Context, resource string) ([]map[string]any, error) {
	var rows []map[string]any
	if err := s.client.Do(ctx, http.MethodGet, resource, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SheetStore) Append(ctx context.Context, resource string, row domain.Row) error {
	return s.client.Do(ctx, http.MethodPost, resource, []domain.Row{row}, nil)
}

func (s *SheetStore) Update(ctx context.Context, resource, id string, row domain.Row) error {
	return s.client.Do(ctx, http.MethodPut, resource, updateBody{Condition: condition{ID: id}, Set: row}, nil)
}

func (s *SheetStore) Delete(ctx context.Context, resource, id string) error {
	return s.client.Do(ctx, http.MethodDelete, resource, deleteBody{Condition: condition{ID: id}}, nil)
}
