package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

var (
	ErrNotFound          = errors.New("item not found")
	ErrNegativeQuantity  = errors.New("quantity must not be negative")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSlotOutOfRange    = errors.New("slot out of range")
	ErrInvalidMutation   = errors.New("invalid mutation")
)

// Item is one stocked reference sitting in a physical box.
type Item struct {
	ID          string
	Reference   string
	Description string
	Quantity    int
	Location    string
	Aisle       string
	Column      int
	Shelf       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Draft is an item before the store assigns its id and timestamps.
type Draft struct {
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Aisle       string `json:"aisle"`
	Column      int    `json:"column"`
	Shelf       int    `json:"shelf"`
}

// Patch carries the fields of a partial update; nil fields are left untouched.
type Patch struct {
	Reference   *string `json:"reference,omitempty"`
	Description *string `json:"description,omitempty"`
	Quantity    *int    `json:"quantity,omitempty"`
	Aisle       *string `json:"aisle,omitempty"`
	Column      *int    `json:"column,omitempty"`
	Shelf       *int    `json:"shelf,omitempty"`
}

// Row is the complete wire shape written to the remote store and the local cache.
type Row struct {
	ID          string `json:"id"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Location    string `json:"location"`
	Aisle       string `json:"aisle"`
	Column      int    `json:"column"`
	Shelf       int    `json:"shelf"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func (it Item) Slot() SlotAddress {
	return SlotAddress{Aisle: it.Aisle, Column: it.Column, Level: it.Shelf}
}

// LocationLabel is the free-text location derived from a slot.
func LocationLabel(aisle string, column, shelf int) string {
	return fmt.Sprintf("%s-%d-%d", aisle, column, shelf)
}

func NewItem(id string, d Draft, now time.Time) Item {
	aisle := strings.ToUpper(strings.TrimSpace(d.Aisle))
	return Item{
		ID:          id,
		Reference:   strings.TrimSpace(d.Reference),
		Description: d.Description,
		Quantity:    d.Quantity,
		Location:    LocationLabel(aisle, d.Column, d.Shelf),
		Aisle:       aisle,
		Column:      d.Column,
		Shelf:       d.Shelf,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Merge applies p on top of it, refreshing UpdatedAt and the derived location.
func (it Item) Merge(p Patch, now time.Time) Item {
	if p.Reference != nil {
		it.Reference = strings.TrimSpace(*p.Reference)
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if p.Quantity != nil {
		it.Quantity = *p.Quantity
	}
	if p.Aisle != nil {
		it.Aisle = strings.ToUpper(strings.TrimSpace(*p.Aisle))
	}
	if p.Column != nil {
		it.Column = *p.Column
	}
	if p.Shelf != nil {
		it.Shelf = *p.Shelf
	}
	it.Location = LocationLabel(it.Aisle, it.Column, it.Shelf)
	it.UpdatedAt = now
	return it
}

// Validate checks the invariants every written item must hold.
func (it Item) Validate(geo Geometry) error {
	if it.Quantity < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeQuantity, it.Quantity)
	}
	if it.Reference == "" {
		return fmt.Errorf("%w: reference is required", ErrInvalidMutation)
	}
	if !geo.Contains(it.Slot()) {
		return fmt.Errorf("%w: %s", ErrSlotOutOfRange, it.Slot())
	}
	return nil
}

func (it Item) ToRow() Row {
	return Row{
		ID:          it.ID,
		Reference:   it.Reference,
		Description: it.Description,
		Quantity:    it.Quantity,
		Location:    it.Location,
		Aisle:       it.Aisle,
		Column:      it.Column,
		Shelf:       it.Shelf,
		CreatedAt:   it.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   it.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r Row) ToItem() Item {
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return Item{
		ID:          r.ID,
		Reference:   r.Reference,
		Description: r.Description,
		Quantity:    r.Quantity,
		Location:    r.Location,
		Aisle:       r.Aisle,
		Column:      r.Column,
		Shelf:       r.Shelf,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}
}

// ItemFromRecord decodes a loosely typed row as returned by the remote store.
// Missing numbers become 0 and missing strings become empty; a negative
// quantity is read as 0, so the row holds no stock. A missing
// timestamp falls back to the one already known for the same id in prev,
// and to now when the id has never been seen.
func ItemFromRecord(rec map[string]any, prev map[string]Item, now time.Time) Item {
	it := Item{
		ID:          strings.TrimSpace(cast.ToString(rec["id"])),
		Reference:   cast.ToString(rec["reference"]),
		Description: cast.ToString(rec["description"]),
		Quantity:    toInt(rec["quantity"]),
		Location:    cast.ToString(rec["location"]),
		Aisle:       strings.ToUpper(strings.TrimSpace(cast.ToString(rec["aisle"]))),
		Column:      toInt(rec["column"]),
		Shelf:       toInt(rec["shelf"]),
	}

	if it.Quantity < 0 {
		it.Quantity = 0
	}

	known, seen := prev[it.ID]
	it.CreatedAt = toTime(rec["created_at"], known.CreatedAt, seen, now)
	it.UpdatedAt = toTime(rec["updated_at"], known.UpdatedAt, seen, now)
	return it
}

func toInt(v any) int {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	n, err := cast.ToFloat64E(v)
	if err != nil {
		return 0
	}
	return int(n)
}

func toTime(v any, known time.Time, seen bool, now time.Time) time.Time {
	if v != nil && cast.ToString(v) != "" {
		if t, err := cast.ToTimeE(v); err == nil {
			return t
		}
	}
	if seen && !known.IsZero() {
		return known
	}
	return now
}

func (it Item) Equal(o Item) bool {
	return it.ID == o.ID &&
		it.Reference == o.Reference &&
		it.Description == o.Description &&
		it.Quantity == o.Quantity &&
		it.Location == o.Location &&
		it.Aisle == o.Aisle &&
		it.Column == o.Column &&
		it.Shelf == o.Shelf &&
		it.CreatedAt.Equal(o.CreatedAt) &&
		it.UpdatedAt.Equal(o.UpdatedAt)
}

// SameItems reports whether a and b hold the same items regardless of order.
func SameItems(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := SortedByID(a), SortedByID(b)
	for i := range sa {
		if !sa[i].Equal(sb[i]) {
			return false
		}
	}
	return true
}

// SortedByID returns a copy of items ordered by id.
func SortedByID(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func IndexByID(items []Item) map[string]Item {
	m := make(map[string]Item, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}
