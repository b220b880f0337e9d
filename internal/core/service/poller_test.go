package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/stockgrid/internal/core/domain"
)

// Mock Fetcher
type mockFetcher struct {
	mu    sync.Mutex
	items []domain.Item
	err   error
	calls int

	// when set, SelectAll signals started and waits for gate
	started chan struct{}
	gate    chan struct{}
}

func (m *mockFetcher) SelectAll(ctx context.Context) ([]domain.Item, error) {
	if m.gate != nil {
		m.started <- struct{}{}
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]domain.Item{}, m.items...), nil
}

func (m *mockFetcher) set(items ...domain.Item) {
	m.mu.Lock()
	m.items = items
	m.mu.Unlock()
}

type recorder struct {
	mu         sync.Mutex
	deliveries [][]domain.Item
}

func (r *recorder) fn(items []domain.Item) {
	r.mu.Lock()
	r.deliveries = append(r.deliveries, items)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func (r *recorder) last() []domain.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveries[len(r.deliveries)-1]
}

var (
	ts    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	itemA = domain.Item{ID: "a", Reference: "REF-A", Quantity: 10, Aisle: "A", Column: 1, Shelf: 1, CreatedAt: ts, UpdatedAt: ts}
	itemB = domain.Item{ID: "b", Reference: "REF-B", Quantity: 20, Aisle: "B", Column: 1, Shelf: 1, CreatedAt: ts, UpdatedAt: ts}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSubscribe_DeliversBaselineImmediately(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA}}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	rec := &recorder{}
	unsubscribe, err := p.Subscribe(context.Background(), rec.fn)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer unsubscribe()

	if rec.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", rec.count())
	}
	if len(rec.last()) != 1 || rec.last()[0].ID != "a" {
		t.Errorf("unexpected baseline %+v", rec.last())
	}
}

func TestSubscribe_FetchError(t *testing.T) {
	f := &mockFetcher{err: errors.New("boom")}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	if _, err := p.Subscribe(context.Background(), func([]domain.Item) {}); err == nil {
		t.Error("expected error")
	}
	if p.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", p.Subscribers())
	}
}

func TestTick_IdenticalSetsDoNotNotify(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA, itemB}}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	rec := &recorder{}
	unsubscribe, _ := p.Subscribe(context.Background(), rec.fn)
	defer unsubscribe()

	// same content, different order
	f.set(itemB, itemA)
	p.tick(context.Background())
	p.tick(context.Background())

	if rec.count() != 1 {
		t.Errorf("expected only the baseline delivery, got %d", rec.count())
	}
}

func TestTick_ChangedQuantityNotifiesOnce(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA, itemB}}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	rec := &recorder{}
	unsubscribe, _ := p.Subscribe(context.Background(), rec.fn)
	defer unsubscribe()

	changed := itemA
	changed.Quantity = 9
	f.set(changed, itemB)

	p.tick(context.Background())
	p.tick(context.Background())

	if rec.count() != 2 {
		t.Fatalf("expected baseline plus one change, got %d", rec.count())
	}
	got := domain.SortedByID(rec.last())
	if len(got) != 2 || got[0].Quantity != 9 {
		t.Errorf("expected full new set, got %+v", got)
	}
}

func TestTick_FetchErrorKeepsSnapshot(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA}}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	rec := &recorder{}
	unsubscribe, _ := p.Subscribe(context.Background(), rec.fn)
	defer unsubscribe()

	f.mu.Lock()
	f.err = errors.New("network down")
	f.mu.Unlock()
	p.tick(context.Background())

	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	p.tick(context.Background())

	if rec.count() != 1 {
		t.Errorf("expected no extra deliveries, got %d", rec.count())
	}
}

func TestInvalidateForcesDelivery(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA}}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	rec := &recorder{}
	unsubscribe, _ := p.Subscribe(context.Background(), rec.fn)
	defer unsubscribe()

	p.Invalidate()
	p.Trigger()

	waitFor(t, func() bool { return rec.count() == 2 })
}

func TestBackgroundLoopDetectsChange(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA}}
	p := NewPoller(f, 10*time.Millisecond, quietLogger())
	defer p.Close()

	rec := &recorder{}
	unsubscribe, _ := p.Subscribe(context.Background(), rec.fn)
	defer unsubscribe()

	f.set(itemA, itemB)
	waitFor(t, func() bool { return rec.count() == 2 })

	// stable data keeps the count put across several ticks
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 2 {
		t.Errorf("expected 2 deliveries, got %d", rec.count())
	}
}

func TestUnsubscribe_StopsDeliveriesAndLoop(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA}}
	p := NewPoller(f, 5*time.Millisecond, quietLogger())
	defer p.Close()

	rec := &recorder{}
	unsubscribe, _ := p.Subscribe(context.Background(), rec.fn)
	unsubscribe()
	unsubscribe() // idempotent

	if p.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", p.Subscribers())
	}

	f.set(itemA, itemB)
	time.Sleep(40 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("expected no delivery after unsubscribe, got %d", rec.count())
	}

	p.mu.Lock()
	running := p.cancel != nil
	cleared := p.snapshot == nil
	p.mu.Unlock()
	if running {
		t.Error("expected loop to stop with no subscribers")
	}
	if !cleared {
		t.Error("expected snapshot cleared")
	}
}

func TestResubscribeRefetchesBaseline(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA}}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	first := &recorder{}
	unsubscribe, _ := p.Subscribe(context.Background(), first.fn)
	unsubscribe()

	f.set(itemB)
	second := &recorder{}
	unsubscribe, _ = p.Subscribe(context.Background(), second.fn)
	defer unsubscribe()

	if second.count() != 1 || second.last()[0].ID != "b" {
		t.Errorf("expected fresh baseline, got %+v", second.deliveries)
	}
}

func TestUnsubscribeFromCallback(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA}}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	var calls atomic.Int32
	var unsubscribe func()
	unsubscribe, _ = p.Subscribe(context.Background(), func([]domain.Item) {
		if calls.Add(1) == 2 {
			unsubscribe()
		}
	})

	// ticks run on this goroutine, after unsubscribe is assigned
	f.set(itemB)
	p.tick(context.Background())

	f.set(itemA)
	p.tick(context.Background())

	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestUnsubscribe_DuringTickSkipsPendingDelivery(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA}}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	keeper := &recorder{}
	keep, _ := p.Subscribe(context.Background(), keeper.fn)
	defer keep()

	leaving := &recorder{}
	unsubscribe, _ := p.Subscribe(context.Background(), leaving.fn)

	f.set(itemB)
	f.started = make(chan struct{}, 1)
	f.gate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		p.tick(context.Background())
		close(done)
	}()

	<-f.started
	unsubscribe()
	close(f.gate)
	<-done

	if leaving.count() != 1 {
		t.Errorf("expected no delivery after unsubscribe returned, got %d", leaving.count())
	}
	if keeper.count() != 2 {
		t.Errorf("expected the remaining subscriber to see the change, got %d", keeper.count())
	}
}

func TestMultipleSubscribers(t *testing.T) {
	f := &mockFetcher{items: []domain.Item{itemA}}
	p := NewPoller(f, time.Hour, quietLogger())
	defer p.Close()

	r1, r2 := &recorder{}, &recorder{}
	u1, _ := p.Subscribe(context.Background(), r1.fn)
	u2, _ := p.Subscribe(context.Background(), r2.fn)
	defer u2()

	f.mu.Lock()
	fetches := f.calls
	f.mu.Unlock()
	if fetches != 1 {
		t.Errorf("expected second subscriber to reuse the snapshot, got %d fetches", fetches)
	}

	f.set(itemB)
	p.tick(context.Background())
	if r1.count() != 2 || r2.count() != 2 {
		t.Errorf("expected both to be notified, got %d and %d", r1.count(), r2.count())
	}

	u1()
	f.set(itemA)
	p.tick(context.Background())
	if r1.count() != 2 || r2.count() != 3 {
		t.Errorf("expected only r2 notified, got %d and %d", r1.count(), r2.count())
	}
}
