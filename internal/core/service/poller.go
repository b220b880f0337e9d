package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

const DefaultPollInterval = 5000 * time.Millisecond

type Fetcher interface {
	SelectAll(ctx context.Context) ([]domain.Item, error)
}

type subscription struct {
	fn     func([]domain.Item)
	active atomic.Bool
	mu     sync.Mutex // orders deliveries to this subscriber
}

func (s *subscription) deliver(items []domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() {
		return
	}
	s.fn(cloneItems(items))
}

// Poller re-fetches the item set on a fixed interval and tells subscribers
// only when it actually changed. The remote store has no push channel, so
// this diff-and-notify loop stands in for one.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	logger   *slog.Logger
	kick     chan struct{}

	mu       sync.Mutex
	subs     map[uint64]*subscription
	nextID   uint64
	snapshot []domain.Item
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPoller(fetcher Fetcher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		subs:     make(map[uint64]*subscription),
	}
}

// Subscribe delivers the current item set to fn straight away and then again
// after every detected change. The returned function unsubscribes; once it
// returns no new call to fn starts. A call already running when it is invoked
// is allowed to finish, which keeps unsubscribing from inside fn safe.
func (p *Poller) Subscribe(ctx context.Context, fn func([]domain.Item)) (func(), error) {
	sub := &subscription{fn: fn}
	sub.active.Store(true)
	sub.mu.Lock()
	defer sub.mu.Unlock()

	var fetched []domain.Item
	for {
		p.mu.Lock()
		if p.snapshot != nil || fetched != nil {
			break
		}
		p.mu.Unlock()

		items, err := p.fetcher.SelectAll(ctx)
		if err != nil {
			return nil, err
		}
		fetched = nonNil(items)
	}

	if p.snapshot == nil {
		p.snapshot = fetched
	}
	baseline := p.snapshot
	id := p.nextID
	p.nextID++
	p.subs[id] = sub
	if p.cancel == nil {
		p.start()
	}
	p.mu.Unlock()

	fn(cloneItems(baseline))

	var once sync.Once
	return func() { once.Do(func() { p.unsubscribe(id) }) }, nil
}

// Invalidate drops the snapshot so the next tick always delivers.
func (p *Poller) Invalidate() {
	p.mu.Lock()
	p.snapshot = nil
	p.mu.Unlock()
}

// Trigger asks the loop for an immediate tick without waiting for it.
func (p *Poller) Trigger() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Subscribers returns the number of live subscriptions.
func (p *Poller) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close stops the loop and drops every subscriber. It must not be called
// from inside a subscriber callback.
func (p *Poller) Close() {
	p.mu.Lock()
	for id, sub := range p.subs {
		sub.active.Store(false)
		delete(p.subs, id)
	}
	done := p.stopLocked()
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// start must be called with p.mu held.
func (p *Poller) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// stopLocked cancels the loop and clears the snapshot; p.mu must be held.
func (p *Poller) stopLocked() chan struct{} {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	done := p.done
	p.cancel = nil
	p.done = nil
	p.snapshot = nil
	return done
}

func (p *Poller) unsubscribe(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, ok := p.subs[id]
	if !ok {
		return
	}
	// deliver checks the flag under sub.mu right before calling fn
	sub.active.Store(false)
	delete(p.subs, id)
	if len(p.subs) == 0 {
		p.stopLocked()
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		case <-p.kick:
			p.tick(ctx)
		}
	}
}

// tick runs on the loop goroutine only, so ticks never overlap.
func (p *Poller) tick(ctx context.Context) {
	items, err := p.fetcher.SelectAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("poller: refresh failed", "error", err)
		}
		return
	}

	items = nonNil(items)

	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	if p.snapshot != nil && domain.SameItems(p.snapshot, items) {
		p.mu.Unlock()
		return
	}
	p.snapshot = items
	subs := make([]*subscription, 0, len(p.subs))
	for _, sub := range p.subs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	p.logger.Debug("poller: change detected", "items", len(items), "subscribers", len(subs))
	for _, sub := range subs {
		sub.deliver(items)
	}
}

func nonNil(items []domain.Item) []domain.Item {
	if items == nil {
		return []domain.Item{}
	}
	return items
}
