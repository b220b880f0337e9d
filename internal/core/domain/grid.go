package domain

import (
	"fmt"
	"strings"
)

// Geometry describes the fixed warehouse layout. Aisles are lettered from 'A'.
type Geometry struct {
	Aisles  int
	Columns int
	Levels  int
}

var DefaultGeometry = Geometry{Aisles: 9, Columns: 7, Levels: 6}

func (g Geometry) Validate() error {
	if g.Aisles < 1 || g.Aisles > 26 {
		return fmt.Errorf("aisles must be between 1 and 26, got %d", g.Aisles)
	}
	if g.Columns < 1 {
		return fmt.Errorf("columns must be positive, got %d", g.Columns)
	}
	if g.Levels < 1 {
		return fmt.Errorf("levels must be positive, got %d", g.Levels)
	}
	return nil
}

func (g Geometry) SlotCount() int {
	return g.Aisles * g.Columns * g.Levels
}

func (g Geometry) AisleLetter(index int) string {
	return string(rune('A' + index))
}

// AisleIndex returns the zero-based offset of aisle from 'A', or -1 when the
// aisle is not part of the geometry.
func (g Geometry) AisleIndex(aisle string) int {
	aisle = strings.ToUpper(strings.TrimSpace(aisle))
	if len(aisle) != 1 {
		return -1
	}
	idx := int(aisle[0]) - 'A'
	if idx < 0 || idx >= g.Aisles {
		return -1
	}
	return idx
}

func (g Geometry) Contains(s SlotAddress) bool {
	return g.AisleIndex(s.Aisle) >= 0 &&
		s.Column >= 1 && s.Column <= g.Columns &&
		s.Level >= 1 && s.Level <= g.Levels
}

// SlotAddress identifies a physical box.
type SlotAddress struct {
	Aisle  string `json:"aisle"`
	Column int    `json:"column"`
	Level  int    `json:"level"`
}

func (s SlotAddress) String() string {
	return LocationLabel(s.Aisle, s.Column, s.Level)
}

// Slot is a box and the references stocked in it, in declaration order.
type Slot struct {
	SlotAddress
	Items []Item
}

func (s Slot) Empty() bool {
	return len(s.Items) == 0
}

// Grid holds every slot of a geometry. Slots are created once and only their
// item lists change.
type Grid struct {
	geo      Geometry
	slots    []Slot
	unplaced []Item
}

// BuildGrid places items into a fresh grid in list order. Duplicate
// references in the same slot are kept as separate entries. An item with no
// stock left is not placed at all.
func BuildGrid(geo Geometry, items []Item) Grid {
	g := Grid{geo: geo, slots: make([]Slot, geo.SlotCount())}
	for a := 0; a < geo.Aisles; a++ {
		for c := 1; c <= geo.Columns; c++ {
			for l := 1; l <= geo.Levels; l++ {
				addr := SlotAddress{Aisle: geo.AisleLetter(a), Column: c, Level: l}
				g.slots[g.index(addr)] = Slot{SlotAddress: addr}
			}
		}
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		addr := it.Slot()
		if !geo.Contains(addr) {
			g.unplaced = append(g.unplaced, it)
			continue
		}
		i := g.index(addr)
		g.slots[i].Items = append(g.slots[i].Items, it)
	}
	return g
}

func (g Grid) index(s SlotAddress) int {
	a := g.geo.AisleIndex(s.Aisle)
	return (a*g.geo.Columns+(s.Column-1))*g.geo.Levels + (s.Level - 1)
}

func (g Grid) Geometry() Geometry {
	return g.geo
}

// Slots returns the slots in traversal order: aisle, column, then level.
func (g Grid) Slots() []Slot {
	return g.slots
}

func (g Grid) Slot(addr SlotAddress) (Slot, bool) {
	addr.Aisle = strings.ToUpper(strings.TrimSpace(addr.Aisle))
	if !g.geo.Contains(addr) {
		return Slot{}, false
	}
	return g.slots[g.index(addr)], true
}

// Unplaced returns items whose slot lies outside the geometry.
func (g Grid) Unplaced() []Item {
	return g.unplaced
}

// Items flattens the grid back into a list in traversal order.
func (g Grid) Items() []Item {
	var out []Item
	for _, s := range g.slots {
		out = append(out, s.Items...)
	}
	return out
}

// OccupiedAbove counts occupied slots above addr in the same aisle and column.
func (g Grid) OccupiedAbove(addr SlotAddress) int {
	n := 0
	for l := addr.Level + 1; l <= g.geo.Levels; l++ {
		s := g.slots[g.index(SlotAddress{Aisle: addr.Aisle, Column: addr.Column, Level: l})]
		if !s.Empty() {
			n++
		}
	}
	return n
}

func (g Grid) clone() Grid {
	out := Grid{geo: g.geo, slots: make([]Slot, len(g.slots)), unplaced: g.unplaced}
	for i, s := range g.slots {
		out.slots[i] = Slot{SlotAddress: s.SlotAddress}
		if len(s.Items) > 0 {
			out.slots[i].Items = append([]Item(nil), s.Items...)
		}
	}
	return out
}
