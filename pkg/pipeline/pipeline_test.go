package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recorder collects handled items and can hold the worker inside the handler.
type recorder struct {
	mu      sync.Mutex
	items   []int
	gate    chan struct{}
	entered chan int
}

func newRecorder(gated bool) *recorder {
	r := &recorder{entered: make(chan int, 100)}
	if gated {
		r.gate = make(chan struct{})
	}
	return r
}

func (r *recorder) handle(ctx context.Context, item int) error {
	r.entered <- item
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.items = append(r.items, item)
	r.mu.Unlock()
	return nil
}

func (r *recorder) handled() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.items...)
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
	t.Fatal("condition not met within 2s")
}

func TestPipeline_CoalescingKeepsNewest(t *testing.T) {
	rec := newRecorder(true)
	p := New("bazaar", Options{Capacity: 1, Coalesce: true, DrainOnShutdown: true}, rec.handle, zerolog.Nop())
	p.Start()

	if err := p.Offer(1); err != nil {
		t.Fatalf("Offer(1) error = %v", err)
	}
	<-rec.entered // worker is now busy with 1

	for i := 2; i <= 5; i++ {
		if err := p.Offer(i); err != nil {
			t.Fatalf("Offer(%d) error = %v", i, err)
		}
	}

	stats := p.Stats()
	if stats.Depth != 1 {
		t.Errorf("Depth = %d, want 1", stats.Depth)
	}
	if stats.Coalesced != 3 {
		t.Errorf("Coalesced = %d, want 3", stats.Coalesced)
	}

	close(rec.gate)
	waitFor(t, func() bool { return len(rec.handled()) == 2 })

	got := rec.handled()
	if got[0] != 1 || got[1] != 5 {
		t.Errorf("handled = %v, want [1 5]", got)
	}

	if err := p.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPipeline_NonCoalescingNeverDropsSilently(t *testing.T) {
	rec := newRecorder(true)
	p := New("auctions", Options{Capacity: 2, Coalesce: false, DrainOnShutdown: true}, rec.handle, zerolog.Nop())
	p.Start()

	if err := p.Offer(1); err != nil {
		t.Fatal(err)
	}
	<-rec.entered

	if err := p.Offer(2); err != nil {
		t.Fatal(err)
	}
	if err := p.Offer(3); err != nil {
		t.Fatal(err)
	}
	if err := p.Offer(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Offer(4) error = %v, want ErrQueueFull", err)
	}

	// Put waits for room instead of dropping.
	putDone := make(chan error, 1)
	go func() {
		putDone <- p.Put(context.Background(), 4)
	}()

	select {
	case err := <-putDone:
		t.Fatalf("Put returned early with %v while the queue was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(rec.gate)
	if err := <-putDone; err != nil {
		t.Fatalf("Put(4) error = %v", err)
	}

	waitFor(t, func() bool { return len(rec.handled()) == 4 })
	got := rec.handled()
	for i, want := range []int{1, 2, 3, 4} {
		if got[i] != want {
			t.Fatalf("handled = %v, want [1 2 3 4]", got)
		}
	}

	stats := p.Stats()
	if stats.Coalesced != 0 {
		t.Errorf("Coalesced = %d, want 0", stats.Coalesced)
	}
	if stats.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1 (the refused Offer)", stats.Rejected)
	}
	if stats.Enqueued != 4 {
		t.Errorf("Enqueued = %d, want 4", stats.Enqueued)
	}

	p.Close(context.Background())
}

func TestPipeline_PutGivesUpWithContext(t *testing.T) {
	rec := newRecorder(true)
	p := New("auctions", Options{Capacity: 1}, rec.handle, zerolog.Nop())
	p.Start()
	defer func() {
		close(rec.gate)
		p.Close(context.Background())
	}()

	p.Offer(1)
	<-rec.entered
	p.Offer(2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Put(ctx, 3)
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Put() error = %v, want ErrQueueFull", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Put() error = %v, want it to wrap the context error", err)
	}
}

func TestPipeline_FIFO(t *testing.T) {
	rec := newRecorder(false)
	p := New("bazaar", Options{Capacity: 10, DrainOnShutdown: true}, rec.handle, zerolog.Nop())

	for i := 1; i <= 10; i++ {
		if err := p.Offer(i); err != nil {
			t.Fatalf("Offer(%d) error = %v", i, err)
		}
	}
	p.Start()

	waitFor(t, func() bool { return len(rec.handled()) == 10 })
	for i, v := range rec.handled() {
		if v != i+1 {
			t.Fatalf("handled = %v, want 1..10 in order", rec.handled())
		}
	}
	p.Close(context.Background())
}

func TestPipeline_HandlerFailuresDoNotStopWorker(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	handler := func(_ context.Context, item int) error {
		mu.Lock()
		seen = append(seen, item)
		mu.Unlock()
		switch item {
		case 1:
			return errors.New("downstream unavailable")
		case 2:
			panic("boom")
		}
		return nil
	}

	p := New("bazaar", Options{Capacity: 3, DrainOnShutdown: true}, handler, zerolog.Nop())
	p.Offer(1)
	p.Offer(2)
	p.Offer(3)
	p.Start()

	waitFor(t, func() bool { return p.Stats().Processed == 3 })

	stats := p.Stats()
	if stats.Failed != 2 {
		t.Errorf("Failed = %d, want 2", stats.Failed)
	}
	mu.Lock()
	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("seen = %v, want the third item handled after the failures", seen)
	}
	mu.Unlock()

	p.Close(context.Background())
}

func TestPipeline_CloseDrains(t *testing.T) {
	rec := newRecorder(false)
	p := New("bazaar", Options{Capacity: 5, DrainOnShutdown: true}, rec.handle, zerolog.Nop())
	for i := 1; i <= 5; i++ {
		p.Offer(i)
	}
	p.Start()

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := len(rec.handled()); got != 5 {
		t.Errorf("handled %d items, want all 5 drained", got)
	}
	if err := p.Offer(6); !errors.Is(err, ErrClosed) {
		t.Errorf("Offer after Close error = %v, want ErrClosed", err)
	}
	if err := p.Put(context.Background(), 7); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after Close error = %v, want ErrClosed", err)
	}
}

func TestPipeline_CloseWithoutDrainDiscards(t *testing.T) {
	rec := newRecorder(true)
	p := New("bazaar", Options{Capacity: 5, DrainOnShutdown: false}, rec.handle, zerolog.Nop())
	p.Start()

	p.Offer(1)
	<-rec.entered
	p.Offer(2)
	p.Offer(3)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(rec.gate)
	}()

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := rec.handled(); len(got) != 1 || got[0] != 1 {
		t.Errorf("handled = %v, want only the in-flight item", got)
	}
	if d := p.Stats().Discarded; d != 2 {
		t.Errorf("Discarded = %d, want 2", d)
	}
}

func TestPipeline_CloseIsBounded(t *testing.T) {
	stuck := make(chan struct{})
	handler := func(ctx context.Context, _ int) error {
		close(stuck)
		<-ctx.Done()
		return ctx.Err()
	}

	p := New("auctions", Options{Capacity: 3, DrainOnShutdown: true}, handler, zerolog.Nop())
	p.Start()
	p.Offer(1)
	<-stuck
	p.Offer(2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Close(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close() took %v, must be bounded by its context", elapsed)
	}
	if d := p.Stats().Discarded; d != 1 {
		t.Errorf("Discarded = %d, want 1", d)
	}
}

func TestPipeline_CloseBeforeStart(t *testing.T) {
	rec := newRecorder(false)
	p := New("bazaar", Options{Capacity: 2, DrainOnShutdown: true}, rec.handle, zerolog.Nop())
	p.Offer(1)

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	p.Start()
	if p.Stats().Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", p.Stats().Discarded)
	}
}
