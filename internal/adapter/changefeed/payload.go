package changefeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

// Snapshot is the message body shared by every publisher.
type Snapshot struct {
	At    string       `json:"at"`
	Count int          `json:"count"`
	Items []domain.Row `json:"items"`
}

func encodeSnapshot(items []domain.Item, at time.Time) ([]byte, error) {
	rows := make([]domain.Row, 0, len(items))
	for _, it := range domain.SortedByID(items) {
		rows = append(rows, it.ToRow())
	}
	body, err := json.Marshal(Snapshot{
		At:    at.UTC().Format(time.RFC3339Nano),
		Count: len(rows),
		Items: rows,
	})
	if err != nil {
		return nil, fmt.Errorf("could not marshal snapshot: %w", err)
	}
	return body, nil
}
