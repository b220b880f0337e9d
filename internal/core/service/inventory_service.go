package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/stockgrid/internal/core/domain"
	"github.com/rl1809/stockgrid/internal/core/fallback"
	"github.com/rl1809/stockgrid/internal/core/ranking"
	"github.com/rl1809/stockgrid/internal/port"
)

var (
	ErrNotFound         = domain.ErrNotFound
	ErrResourceNotFound = errors.New("no candidate resource responded")
)

// DefaultResources are probed in order until one answers.
var DefaultResources = []string{"inventory", "Inventory", "stock", "Sheet1"}

// Notifier is told about every successful mutation.
type Notifier interface {
	Invalidate()
	Trigger()
}

// InventoryService is the only owner of the remote store and the local
// cache. It routes every read and write to one or the other depending on the
// fallback state; callers never see which one served them.
type InventoryService struct {
	remote    port.RemoteStore
	cache     port.LocalCache
	state     *fallback.State
	geo       domain.Geometry
	resources []string
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	writeMu sync.Mutex
	fetch   singleflight.Group

	mu       sync.RWMutex
	resource string
	loaded   []domain.Item
	notifier Notifier
}

type Option func(*InventoryService)

func WithResources(names ...string) Option {
	return func(s *InventoryService) {
		if len(names) > 0 {
			s.resources = names
		}
	}
}

func WithGeometry(geo domain.Geometry) Option {
	return func(s *InventoryService) { s.geo = geo }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *InventoryService) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *InventoryService) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *InventoryService) { s.newID = gen }
}

func NewInventoryService(remote port.RemoteStore, cache port.LocalCache, state *fallback.State, opts ...Option) *InventoryService {
	s := &InventoryService{
		remote:    remote,
		cache:     cache,
		state:     state,
		geo:       domain.DefaultGeometry,
		resources: DefaultResources,
		logger:    slog.Default(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InventoryService) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *InventoryService) Geometry() domain.Geometry {
	return s.geo
}

func (s *InventoryService) IsFallbackMode() bool {
	return s.state.Active()
}

func (s *InventoryService) FallbackReason() string {
	return s.state.Reason()
}

// Resource returns the resolved remote resource name, empty until resolved.
func (s *InventoryService) Resource() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resource
}

// Init loads the initial item set. A remote failure at this point degrades
// the process to fallback mode instead of failing startup.
func (s *InventoryService) Init(ctx context.Context) error {
	_, err := s.SelectAll(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if s.state.Enter("initialization failed: " + err.Error()) {
		s.logger.Error("inventory: initialization failed, entering fallback mode", "error", err)
	}
	_, err = s.loadLocal(ctx)
	return err
}

func (s *InventoryService) SelectAll(ctx context.Context) ([]domain.Item, error) {
	if !s.state.Active() {
		// the shared fetch outlives any single caller's cancellation
		ch := s.fetch.DoChan("select-all", func() (interface{}, error) {
			return s.fetchRemote(context.WithoutCancel(ctx))
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}
		if res.Err == nil {
			return cloneItems(res.Val.([]domain.Item)), nil
		}
		if !s.state.Active() {
			return nil, res.Err
		}
	}
	return s.loadLocal(ctx)
}

func (s *InventoryService) SelectByAisle(ctx context.Context, aisle string) ([]domain.Item, error) {
	items, err := s.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	aisle = strings.ToUpper(strings.TrimSpace(aisle))
	out := []domain.Item{}
	for _, it := range items {
		if it.Aisle == aisle {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *InventoryService) Grid(ctx context.Context) (domain.Grid, error) {
	items, err := s.SelectAll(ctx)
	if err != nil {
		return domain.Grid{}, err
	}
	return domain.BuildGrid(s.geo, items), nil
}

func (s *InventoryService) Search(ctx context.Context, term string) (ranking.Result, error) {
	g, err := s.Grid(ctx)
	if err != nil {
		return ranking.Result{}, err
	}
	return ranking.Rank(g, term), nil
}

func (s *InventoryService) Insert(ctx context.Context, d domain.Draft) (domain.Item, error) {
	it := domain.NewItem(s.newID(), d, s.now())
	if err := it.Validate(s.geo); err != nil {
		return domain.Item{}, err
	}
	if it.Quantity == 0 {
		return domain.Item{}, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidMutation)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.write(ctx, domain.Write{Op: domain.OpInsert, Item: it}); err != nil {
		return domain.Item{}, err
	}
	s.changed()
	return it, nil
}

func (s *InventoryService) Update(ctx context.Context, id string, p domain.Patch) (domain.Item, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	items, err := s.itemsForWrite(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	existing, ok := findItem(items, id)
	if !ok {
		return domain.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	it := existing.Merge(p, s.now())
	if err := it.Validate(s.geo); err != nil {
		return domain.Item{}, err
	}
	// an entry with no stock left leaves its slot
	op := domain.OpUpdate
	if it.Quantity == 0 {
		op = domain.OpDelete
	}
	if err := s.write(ctx, domain.Write{Op: op, Item: it}); err != nil {
		return domain.Item{}, err
	}
	s.changed()
	return it, nil
}

func (s *InventoryService) Delete(ctx context.Context, id string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	items, err := s.itemsForWrite(ctx)
	if err != nil {
		return false, err
	}
	existing, ok := findItem(items, id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.write(ctx, domain.Write{Op: domain.OpDelete, Item: existing}); err != nil {
		return false, err
	}
	s.changed()
	return true, nil
}

// Apply runs a slot mutation: the grid transition and the row writes that
// persist it come from the same call, so the two can never drift apart.
func (s *InventoryService) Apply(ctx context.Context, m domain.Mutation) (domain.Grid, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	items, err := s.itemsForWrite(ctx)
	if err != nil {
		return domain.Grid{}, err
	}
	next, writes, err := domain.Apply(domain.BuildGrid(s.geo, items), m, s.now(), s.newID)
	if err != nil {
		return domain.Grid{}, err
	}
	for _, w := range writes {
		if err := s.write(ctx, w); err != nil {
			return domain.Grid{}, err
		}
	}
	s.changed()
	return next, nil
}

func (s *InventoryService) fetchRemote(ctx context.Context) ([]domain.Item, error) {
	resource := s.Resource()

	var rows []map[string]any
	var err error
	if resource == "" {
		rows, err = s.resolve(ctx)
	} else {
		rows, err = s.remote.Fetch(ctx, resource)
	}
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	prev := domain.IndexByID(s.loaded)
	s.mu.RUnlock()

	now := s.now()
	items := make([]domain.Item, 0, len(rows))
	skipped := 0
	for _, rec := range rows {
		it := domain.ItemFromRecord(rec, prev, now)
		if it.ID == "" {
			skipped++
			continue
		}
		items = append(items, it)
	}
	if skipped > 0 {
		s.logger.Warn("inventory: skipped rows without id", "count", skipped)
	}

	s.remember(ctx, items)
	return items, nil
}

// resolve probes the candidate resources in order and caches the first one
// that answers. When none does, the process degrades to fallback mode.
func (s *InventoryService) resolve(ctx context.Context) ([]map[string]any, error) {
	for _, name := range s.resources {
		rows, err := s.remote.Fetch(ctx, name)
		if err == nil {
			s.mu.Lock()
			s.resource = name
			s.mu.Unlock()
			s.logger.Info("inventory: resolved remote resource", "resource", name)
			return rows, nil
		}
		if s.state.Active() || ctx.Err() != nil {
			return nil, err
		}
		s.logger.Debug("inventory: candidate resource rejected", "resource", name, "error", err)
	}

	if s.state.Enter("resource not found") {
		s.logger.Error("inventory: no remote resource resolved, entering fallback mode", "candidates", s.resources)
	}
	return nil, ErrResourceNotFound
}

func (s *InventoryService) loadLocal(ctx context.Context) ([]domain.Item, error) {
	items, err := s.cache.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: local cache: %v", port.ErrUnavailable, err)
	}
	s.mu.Lock()
	s.loaded = items
	s.mu.Unlock()
	return cloneItems(items), nil
}

// remember records the latest remote view and mirrors it to the local cache
// so a later fallback starts from it.
func (s *InventoryService) remember(ctx context.Context, items []domain.Item) {
	s.mu.Lock()
	changed := s.loaded == nil || !domain.SameItems(s.loaded, items)
	s.loaded = items
	s.mu.Unlock()

	if !changed || s.state.Active() {
		return
	}
	if err := s.cache.Save(ctx, items); err != nil {
		s.logger.Warn("inventory: mirroring to local cache failed", "error", err)
	}
}

// itemsForWrite returns the set a mutation must be checked against.
func (s *InventoryService) itemsForWrite(ctx context.Context) ([]domain.Item, error) {
	if s.state.Active() {
		return s.loadLocal(ctx)
	}
	s.mu.RLock()
	items := s.loaded
	s.mu.RUnlock()
	if items != nil {
		return cloneItems(items), nil
	}
	return s.SelectAll(ctx)
}

// write persists one row change. A remote write that trips fallback is
// replayed against the local cache.
func (s *InventoryService) write(ctx context.Context, w domain.Write) error {
	if !s.state.Active() {
		err := s.writeRemote(ctx, w)
		if err == nil {
			s.mu.Lock()
			next, _ := applyWrite(s.loaded, w)
			s.loaded = next
			s.mu.Unlock()
			if err := s.cache.Save(ctx, next); err != nil {
				s.logger.Warn("inventory: mirroring to local cache failed", "error", err)
			}
			return nil
		}
		if !s.state.Active() {
			return fmt.Errorf("%s %s: %w", w.Op, w.Item.ID, err)
		}
		s.logger.Warn("inventory: rerouting write to local cache",
			"op", w.Op,
			"id", w.Item.ID,
			"reason", s.state.Reason(),
		)
	}
	return s.writeLocal(ctx, w)
}

func (s *InventoryService) writeRemote(ctx context.Context, w domain.Write) error {
	resource := s.Resource()
	if resource == "" {
		if _, err := s.SelectAll(ctx); err != nil {
			return err
		}
		if resource = s.Resource(); resource == "" {
			return ErrResourceNotFound
		}
	}

	switch w.Op {
	case domain.OpInsert:
		return s.remote.Append(ctx, resource, w.Item.ToRow())
	case domain.OpUpdate:
		return s.remote.Update(ctx, resource, w.Item.ID, w.Item.ToRow())
	case domain.OpDelete:
		return s.remote.Delete(ctx, resource, w.Item.ID)
	}
	return fmt.Errorf("%w: unknown write op %q", domain.ErrInvalidMutation, w.Op)
}

func (s *InventoryService) writeLocal(ctx context.Context, w domain.Write) error {
	items, err := s.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: local cache: %v", port.ErrUnavailable, err)
	}
	next, found := applyWrite(items, w)
	if !found && w.Op != domain.OpInsert {
		return fmt.Errorf("%w: %s", ErrNotFound, w.Item.ID)
	}
	if err := s.cache.Save(ctx, next); err != nil {
		return fmt.Errorf("%w: local cache: %v", port.ErrUnavailable, err)
	}
	s.mu.Lock()
	s.loaded = next
	s.mu.Unlock()
	return nil
}

func (s *InventoryService) changed() {
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n == nil {
		return
	}
	n.Invalidate()
	n.Trigger()
}

// applyWrite returns a new slice with w applied; found reports whether an
// update or delete matched an existing id.
func applyWrite(items []domain.Item, w domain.Write) ([]domain.Item, bool) {
	out := make([]domain.Item, 0, len(items)+1)
	found := false
	for _, it := range items {
		if it.ID != w.Item.ID {
			out = append(out, it)
			continue
		}
		found = true
		if w.Op == domain.OpUpdate {
			out = append(out, w.Item)
		}
	}
	if w.Op == domain.OpInsert {
		out = append(out, w.Item)
	}
	return out, found
}

func findItem(items []domain.Item, id string) (domain.Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.Item{}, false
}

func cloneItems(items []domain.Item) []domain.Item {
	out := make([]domain.Item, len(items))
	copy(out, items)
	return out
}
