package storage

import (
	"encoding/json"
	"fmt"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

// DefaultKey is the single record under which the full item list is kept.
const DefaultKey = "stockgrid:items"

func encodeItems(items []domain.Item) ([]byte, error) {
	rows := make([]domain.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, it.ToRow())
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	return data, nil
}

func decodeItems(data []byte) ([]domain.Item, error) {
	if len(data) == 0 {
		return []domain.Item{}, nil
	}
	var rows []domain.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	items := make([]domain.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.ToItem())
	}
	return items, nil
}
