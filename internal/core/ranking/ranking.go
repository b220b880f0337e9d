// Package ranking orders the slots holding a searched reference so the one to
// pick first comes first. Three factors feed a composite score on a 0-5 scale:
// low remaining stock (priority), ease of reaching the box (accessibility) and
// closeness of the aisle to the entrance (proximity).
package ranking

import (
	"sort"
	"strings"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

const (
	MaxAccessibility = 3
	MaxPriority      = 3
	MaxScore         = 5.0

	priorityWeight      = 0.40
	accessibilityWeight = 0.35
	proximityWeight     = 0.25
)

// Location is one matching reference and the scores of the slot holding it.
type Location struct {
	domain.SlotAddress
	ItemID        string  `json:"item_id"`
	Reference     string  `json:"reference"`
	Description   string  `json:"description"`
	Quantity      int     `json:"quantity"`
	Accessibility int     `json:"accessibility"`
	Proximity     int     `json:"proximity"`
	Priority      int     `json:"priority"`
	Score         float64 `json:"score"`
}

type Result struct {
	Term       string     `json:"term"`
	TotalUnits int        `json:"total_units"`
	Locations  []Location `json:"locations"`
}

// Rank scores every reference whose code or description contains term,
// case-insensitively, and sorts them best first. Ties keep traversal order.
func Rank(g domain.Grid, term string) Result {
	res := Result{Term: term, Locations: []Location{}}
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return res
	}

	geo := g.Geometry()
	for _, slot := range g.Slots() {
		for _, it := range slot.Items {
			if !matches(it, needle) {
				continue
			}
			loc := Location{
				SlotAddress:   slot.SlotAddress,
				ItemID:        it.ID,
				Reference:     it.Reference,
				Description:   it.Description,
				Quantity:      it.Quantity,
				Accessibility: Accessibility(g, slot.SlotAddress),
				Proximity:     Proximity(geo, slot.Aisle),
				Priority:      Priority(it.Quantity),
			}
			loc.Score = Score(loc.Priority, loc.Accessibility, loc.Proximity, MaxProximity(geo))
			res.TotalUnits += it.Quantity
			res.Locations = append(res.Locations, loc)
		}
	}

	sort.SliceStable(res.Locations, func(i, j int) bool {
		return res.Locations[i].Score > res.Locations[j].Score
	})
	return res
}

func matches(it domain.Item, needle string) bool {
	return strings.Contains(strings.ToLower(it.Reference), needle) ||
		strings.Contains(strings.ToLower(it.Description), needle)
}

// Accessibility is 3 for an empty slot or a low slot with nothing stacked
// above, 2 for a mid-height slot with at most one occupied slot above, and 1
// otherwise.
func Accessibility(g domain.Grid, addr domain.SlotAddress) int {
	slot, ok := g.Slot(addr)
	if !ok || slot.Empty() {
		return MaxAccessibility
	}
	above := g.OccupiedAbove(slot.SlotAddress)
	switch {
	case above == 0 && slot.Level <= 2:
		return 3
	case above <= 1 && slot.Level <= 4:
		return 2
	default:
		return 1
	}
}

// MaxProximity is the proximity of the first aisle.
func MaxProximity(geo domain.Geometry) int {
	return geo.Aisles
}

// Proximity counts down from the first aisle: with nine aisles A is 9 and I is 1.
func Proximity(geo domain.Geometry, aisle string) int {
	idx := geo.AisleIndex(aisle)
	if idx < 0 {
		return 0
	}
	return geo.Aisles - idx
}

// Priority favours nearly exhausted references so they are picked first.
func Priority(quantity int) int {
	switch {
	case quantity <= 50:
		return 3
	case quantity <= 100:
		return 2
	default:
		return 1
	}
}

func Score(priority, accessibility, proximity, maxProximity int) float64 {
	if maxProximity <= 0 {
		maxProximity = 1
	}
	p := float64(priority) / MaxPriority * MaxScore
	a := float64(accessibility) / MaxAccessibility * MaxScore
	x := float64(proximity) / float64(maxProximity) * MaxScore
	return p*priorityWeight + a*accessibilityWeight + x*proximityWeight
}
