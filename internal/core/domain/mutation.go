package domain

import (
	"fmt"
	"strings"
	"time"
)

type WriteOp string

const (
	OpInsert WriteOp = "insert"
	OpUpdate WriteOp = "update"
	OpDelete WriteOp = "delete"
)

// Write is one row-level change derived from a mutation.
type Write struct {
	Op   WriteOp
	Item Item
}

// Mutation is a structural change to a single slot.
type Mutation interface {
	Target() SlotAddress
	apply(s *Slot, now time.Time, newID func() string) ([]Write, error)
}

// AddStock puts quantity units of a reference into a slot. An existing entry
// with the same reference in that slot is topped up instead of duplicated.
type AddStock struct {
	Slot        SlotAddress
	Reference   string
	Description string
	Quantity    int
}

// Withdraw takes quantity units out; an entry that reaches zero is removed.
type Withdraw struct {
	Slot      SlotAddress
	Reference string
	Quantity  int
}

// SetQuantity overwrites the held quantity; zero removes the entry.
type SetQuantity struct {
	Slot      SlotAddress
	Reference string
	Quantity  int
}

type RemoveReference struct {
	Slot      SlotAddress
	Reference string
}

func (m AddStock) Target() SlotAddress        { return m.Slot }
func (m Withdraw) Target() SlotAddress        { return m.Slot }
func (m SetQuantity) Target() SlotAddress     { return m.Slot }
func (m RemoveReference) Target() SlotAddress { return m.Slot }

// Apply derives both the next grid and the row writes that persist it. The
// input grid is left untouched.
func Apply(g Grid, m Mutation, now time.Time, newID func() string) (Grid, []Write, error) {
	addr := m.Target()
	addr.Aisle = strings.ToUpper(strings.TrimSpace(addr.Aisle))
	if !g.geo.Contains(addr) {
		return g, nil, fmt.Errorf("%w: %s", ErrSlotOutOfRange, addr)
	}

	next := g.clone()
	slot := &next.slots[next.index(addr)]
	writes, err := m.apply(slot, now, newID)
	if err != nil {
		return g, nil, err
	}
	return next, writes, nil
}

func findRef(s *Slot, ref string) int {
	for i, it := range s.Items {
		if strings.EqualFold(it.Reference, ref) {
			return i
		}
	}
	return -1
}

func removeAt(s *Slot, i int) Item {
	it := s.Items[i]
	s.Items = append(s.Items[:i:i], s.Items[i+1:]...)
	return it
}

func (m AddStock) apply(s *Slot, now time.Time, newID func() string) ([]Write, error) {
	ref := strings.TrimSpace(m.Reference)
	if ref == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInvalidMutation)
	}
	if m.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidMutation)
	}

	if i := findRef(s, ref); i >= 0 {
		it := s.Items[i]
		it.Quantity += m.Quantity
		if m.Description != "" {
			it.Description = m.Description
		}
		it.UpdatedAt = now
		s.Items[i] = it
		return []Write{{Op: OpUpdate, Item: it}}, nil
	}

	it := NewItem(newID(), Draft{
		Reference:   ref,
		Description: m.Description,
		Quantity:    m.Quantity,
		Aisle:       s.Aisle,
		Column:      s.Column,
		Shelf:       s.Level,
	}, now)
	s.Items = append(s.Items, it)
	return []Write{{Op: OpInsert, Item: it}}, nil
}

func (m Withdraw) apply(s *Slot, now time.Time, _ func() string) ([]Write, error) {
	if m.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidMutation)
	}
	i := findRef(s, m.Reference)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, m.Reference, s.SlotAddress)
	}
	it := s.Items[i]
	if m.Quantity > it.Quantity {
		return nil, fmt.Errorf("%w: %s holds %d, requested %d", ErrInsufficientStock, it.Reference, it.Quantity, m.Quantity)
	}
	it.Quantity -= m.Quantity
	it.UpdatedAt = now
	if it.Quantity == 0 {
		removeAt(s, i)
		return []Write{{Op: OpDelete, Item: it}}, nil
	}
	s.Items[i] = it
	return []Write{{Op: OpUpdate, Item: it}}, nil
}

func (m SetQuantity) apply(s *Slot, now time.Time, _ func() string) ([]Write, error) {
	if m.Quantity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeQuantity, m.Quantity)
	}
	i := findRef(s, m.Reference)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, m.Reference, s.SlotAddress)
	}
	it := s.Items[i]
	it.Quantity = m.Quantity
	it.UpdatedAt = now
	if it.Quantity == 0 {
		removeAt(s, i)
		return []Write{{Op: OpDelete, Item: it}}, nil
	}
	s.Items[i] = it
	return []Write{{Op: OpUpdate, Item: it}}, nil
}

func (m RemoveReference) apply(s *Slot, _ time.Time, _ func() string) ([]Write, error) {
	i := findRef(s, m.Reference)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, m.Reference, s.SlotAddress)
	}
	return []Write{{Op: OpDelete, Item: removeAt(s, i)}}, nil
}
