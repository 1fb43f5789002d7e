package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned when a non-coalescing queue has no room.
	ErrQueueFull = errors.New("pipeline queue full")

	// ErrClosed is returned when an item is offered after Close.
	ErrClosed = errors.New("pipeline closed")
)

// Handler processes one item. Errors are logged and counted by the pipeline.
type Handler[T any] func(ctx context.Context, item T) error

// Item is a queued payload.
type Item[T any] struct {
	Payload    T
	EnqueuedAt time.Time
}

// Options configures a Pipeline.
type Options struct {
	Capacity        int
	Coalesce        bool
	DrainOnShutdown bool
}

// Stats is a point-in-time view of a pipeline's counters.
type Stats struct {
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	Enqueued  uint64 `json:"enqueued"`
	Coalesced uint64 `json:"coalesced"`
	Rejected  uint64 `json:"rejected"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Discarded uint64 `json:"discarded"`
}

// Pipeline is a bounded FIFO queue with one worker.
type Pipeline[T any] struct {
	name    string
	opts    Options
	handler Handler[T]
	logger  zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond    // signals the worker: item queued or closed
	spaceCh chan struct{} // closed and replaced whenever room frees up
	buf     []Item[T]
	head    int
	size    int
	closed  bool
	started bool
	stats   Stats

	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pipeline. Call Start to launch its worker.
func New[T any](name string, opts Options, handler Handler[T], logger zerolog.Logger) *Pipeline[T] {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline[T]{
		name:    name,
		opts:    opts,
		handler: handler,
		logger:  logger.With().Str("source", name).Logger(),
		spaceCh: make(chan struct{}),
		buf:     make([]Item[T], opts.Capacity),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	p.stats.Capacity = opts.Capacity
	return p
}

// Name returns the source name the pipeline serves.
func (p *Pipeline[T]) Name() string {
	return p.name
}

// Start launches the worker. Calling it more than once has no effect.
func (p *Pipeline[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	go p.run()
}

// Offer enqueues payload without blocking.
func (p *Pipeline[T]) Offer(payload T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.reject()
		return ErrClosed
	}
	if p.size == len(p.buf) {
		if !p.opts.Coalesce {
			p.reject()
			return ErrQueueFull
		}
		p.dropOldest()
	}
	p.push(payload)
	return nil
}

// Put enqueues payload, waiting for room when the queue is full and
// coalescing is disabled. It gives up with ErrQueueFull when ctx is done.
func (p *Pipeline[T]) Put(ctx context.Context, payload T) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.reject()
			p.mu.Unlock()
			return ErrClosed
		}
		if p.size < len(p.buf) || p.opts.Coalesce {
			if p.size == len(p.buf) {
				p.dropOldest()
			}
			p.push(payload)
			p.mu.Unlock()
			return nil
		}
		space := p.spaceCh
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.reject()
			p.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrQueueFull, ctx.Err())
		case <-space:
		}
	}
}

// Stats returns the current counters.
func (p *Pipeline[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Depth = p.size
	return s
}

// Close stops intake and shuts the worker down according to DrainOnShutdown,
// waiting no longer than ctx allows. It is safe to call more than once.
func (p *Pipeline[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if !p.opts.DrainOnShutdown || !p.started {
			p.discardLocked()
		}
		p.cond.Broadcast()
		p.signalSpace()
	}
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		n := p.discardLocked()
		p.mu.Unlock()
		p.cancel()
		p.logger.Error().
			Int("discarded", n).
			Msg("Pipeline shutdown timed out, remaining items discarded")
		return fmt.Errorf("close pipeline %s: %w", p.name, ctx.Err())
	}
}

func (p *Pipeline[T]) run() {
	defer close(p.done)

	p.logger.Debug().Int("capacity", len(p.buf)).Msg("Pipeline worker started")

	for {
		p.mu.Lock()
		for p.size == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.size == 0 {
			p.mu.Unlock()
			p.logger.Debug().Msg("Pipeline worker stopped")
			return
		}
		item := p.pop()
		p.mu.Unlock()

		p.process(item)
	}
}

func (p *Pipeline[T]) process(item Item[T]) {
	start := time.Now()
	result := "ok"

	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			correlationID := uuid.NewString()
			p.logger.Error().
				Str("correlation_id", correlationID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Pipeline handler panicked")
		}

		pipelineHandlerDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
		pipelineProcessedTotal.WithLabelValues(p.name, result).Inc()

		p.mu.Lock()
		p.stats.Processed++
		if result != "ok" {
			p.stats.Failed++
		}
		p.mu.Unlock()
	}()

	if err := p.handler(p.ctx, item.Payload); err != nil {
		result = "error"
		p.logger.Warn().
			Err(err).
			Dur("queued_for", start.Sub(item.EnqueuedAt)).
			Msg("Pipeline handler failed")
	}
}

// push appends to the tail. Caller holds mu and has ensured room.
func (p *Pipeline[T]) push(payload T) {
	tail := (p.head + p.size) % len(p.buf)
	p.buf[tail] = Item[T]{Payload: payload, EnqueuedAt: time.Now()}
	p.size++
	p.stats.Enqueued++
	pipelineEnqueuedTotal.WithLabelValues(p.name).Inc()
	pipelineDepth.WithLabelValues(p.name).Set(float64(p.size))
	p.cond.Signal()
}

// pop removes the head. Caller holds mu and has ensured size > 0.
func (p *Pipeline[T]) pop() Item[T] {
	item := p.buf[p.head]
	var zero Item[T]
	p.buf[p.head] = zero
	p.head = (p.head + 1) % len(p.buf)
	p.size--
	pipelineDepth.WithLabelValues(p.name).Set(float64(p.size))
	p.signalSpace()
	return item
}

func (p *Pipeline[T]) dropOldest() {
	dropped := p.pop()
	p.stats.Coalesced++
	pipelineCoalescedTotal.WithLabelValues(p.name).Inc()
	p.logger.Warn().
		Time("enqueued_at", dropped.EnqueuedAt).
		Msg("Coalesced pending item, newer payload replaces it")
}

func (p *Pipeline[T]) reject() {
	p.stats.Rejected++
	pipelineRejectedTotal.WithLabelValues(p.name).Inc()
}

func (p *Pipeline[T]) discardLocked() int {
	n := p.size
	for p.size > 0 {
		p.pop()
	}
	if n > 0 {
		p.stats.Discarded += uint64(n)
		pipelineDiscardedTotal.WithLabelValues(p.name).Add(float64(n))
	}
	return n
}

func (p *Pipeline[T]) signalSpace() {
	close(p.spaceCh)
	p.spaceCh = make(chan struct{})
}
