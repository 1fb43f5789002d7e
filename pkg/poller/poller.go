// Package poller implements the adaptive per-source polling loop.
//
// A Poller owns the State of one source. Each tick it takes admission from the
// shared limiter, calls the source's FetchFunc, classifies the result with
// detect.Compare, advances the state machine and forwards changed executions
// to its sink (normally a pipeline.Pipeline). The state machine runs through
// four modes:
//
//	WARMUP  --timeout or change-->  STEADY
//	STEADY  --guard window open-->  BURST
//	BURST   --window, no change-->  BACKOFF
//	BACKOFF --next observation-->   STEADY
//	any     --change-->             STEADY
//
// OnNoChange and OnChanged are the only state mutators; both take the current
// time explicitly so transitions can be tested without sleeping.
package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/hypixel-market-poller/pkg/config"
	"github.com/Sternrassler/hypixel-market-poller/pkg/detect"
)

// Comparison is what a fetch function may use to avoid or shortcut work.
type Comparison struct {
	PreviousMarker string
	ETag           string
	LastModified   string
}

// Transport is the raw HTTP outcome of a fetch.
type Transport struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// FetchResult is returned by a FetchFunc.
type FetchResult[T any] struct {
	Payload    T
	HasPayload bool

	// Marker identifies the upstream version of the payload.
	Marker string

	// NotModified is set when the upstream answered a conditional request
	// with 304. The result is then NO_CHANGE regardless of Marker.
	NotModified bool

	ETag         string
	LastModified string
	Transport    Transport
}

// FetchFunc performs one fetch for a source. It must not retry.
type FetchFunc[T any] func(ctx context.Context, cmp Comparison) (FetchResult[T], error)

// Execution is the classified result of one successful fetch.
type Execution[T any] struct {
	Decision   detect.Decision
	Payload    T
	HasPayload bool
	FetchedAt  time.Time
	Transport  Transport
}

// Admission is the shared request gate. *ratelimit.Limiter implements it.
type Admission interface {
	Acquire(ctx context.Context) error
	TryAcquire(ctx context.Context) (bool, time.Duration)
}

// Sink receives changed executions. *pipeline.Pipeline implements it.
type Sink[T any] interface {
	Put(ctx context.Context, exec Execution[T]) error
}

// Options holds the optional collaborators of a Poller.
type Options struct {
	// Blocking waits for admission inside the tick. Otherwise a tick that is
	// not admitted is rescheduled after the limiter's delay without counting
	// as an observation.
	Blocking bool

	// EnqueueTimeout bounds how long forwarding to the sink may wait.
	EnqueueTimeout time.Duration

	Clock  Clock
	Logger zerolog.Logger
}

// Poller schedules and runs the fetches of one source.
type Poller[T any] struct {
	name    string
	tuning  tuning
	fetch   FetchFunc[T]
	limiter Admission
	sink    Sink[T]
	opts    Options
	logger  zerolog.Logger

	mu    sync.Mutex
	state *State
}

// New creates a Poller in WARMUP with all timestamps unset.
func New[T any](cfg config.Endpoint, fetch FetchFunc[T], limiter Admission, sink Sink[T], opts Options) *Poller[T] {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = cfg.RequestTimeout
	}

	t := newTuning(cfg)
	p := &Poller[T]{
		name:    cfg.Name,
		tuning:  t,
		fetch:   fetch,
		limiter: limiter,
		sink:    sink,
		opts:    opts,
		logger:  opts.Logger.With().Str("source", cfg.Name).Logger(),
		state: &State{
			Mode:            ModeWarmup,
			EstimatedPeriod: t.clampPeriod(t.periodHint),
		},
	}
	p.publishMode(ModeWarmup)
	pollerEstimatedPeriod.WithLabelValues(p.name).Set(p.state.EstimatedPeriod.Seconds())
	return p
}

// Name returns the source name.
func (p *Poller[T]) Name() string {
	return p.name
}

// String names the poller for supervisor logs.
func (p *Poller[T]) String() string {
	return "poller/" + p.name
}

// State returns the live state. Intended for tests and diagnostics; callers
// must not mutate it while the poller is serving.
func (p *Poller[T]) State() *State {
	return p.state
}

// Snapshot returns a copy of the state, safe for concurrent readers.
func (p *Poller[T]) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.snapshot(p.name)
}

// SeedMarker restores change-detection context, typically from the latest
// stored snapshot after a restart, so the first fetch is not reported as a change.
func (p *Poller[T]) SeedMarker(marker, etag, lastModified string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.LastMarker = marker
	p.state.LastETag = etag
	p.state.LastModified = lastModified
}

// OnNoChange records a NO_CHANGE observation at now and returns the resulting mode.
func (p *Poller[T]) OnNoChange(now time.Time) Mode {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.state.Mode
	to := p.tuning.observeNoChange(p.state, now)
	if to == ModeBackoff && from == ModeBurst {
		pollerMissesTotal.WithLabelValues(p.name).Inc()
		p.logger.Info().
			Uint64("miss_count", p.state.MissCount).
			Dur("estimated_period", p.state.EstimatedPeriod).
			Msg("Burst window elapsed without change")
	}
	p.transition(from, to)
	return to
}

// OnChanged records a CHANGED observation at now and returns the resulting
// mode, which is always STEADY.
func (p *Poller[T]) OnChanged(exec Execution[T], now time.Time) Mode {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.state.Mode
	expected := p.state.ExpectedNextChangeAt
	to := p.tuning.observeChange(p.state, exec.Decision.Current, now)

	if d := lag(expected, now); d > 0 {
		pollerDetectionLag.WithLabelValues(p.name).Observe(d.Seconds())
	}
	pollerEstimatedPeriod.WithLabelValues(p.name).Set(p.state.EstimatedPeriod.Seconds())

	p.logger.Info().
		Str("marker", exec.Decision.Current).
		Str("mode", string(from)).
		Dur("estimated_period", p.state.EstimatedPeriod).
		Uint64("update_count", p.state.UpdateCount).
		Msg("Change detected")

	p.transition(from, to)
	return to
}

// OnBaseline records the first marker a source reports when there was none
// to compare with. The marker is kept but the mode advances as for NO_CHANGE,
// so warmup continues and no change is counted.
func (p *Poller[T]) OnBaseline(exec Execution[T], now time.Time) Mode {
	p.mu.Lock()
	p.state.LastMarker = exec.Decision.Current
	p.mu.Unlock()

	p.logger.Info().
		Str("marker", exec.Decision.Current).
		Msg("Baseline recorded")
	return p.OnNoChange(now)
}

// NextDelay returns how long the scheduler should wait before the next tick.
func (p *Poller[T]) NextDelay(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tuning.nextDelay(p.state, now)
}

// Serve runs the poller until ctx is cancelled. The first tick fires immediately.
func (p *Poller[T]) Serve(ctx context.Context) error {
	p.logger.Info().
		Str("mode", string(p.Snapshot().Mode)).
		Dur("period_hint", p.tuning.periodHint).
		Msg("Poller started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Poller stopped")
			return ctx.Err()
		case <-timer.C:
			delay, err := p.Tick(ctx)
			if err != nil {
				if ctx.Err() != nil {
					p.logger.Info().Msg("Poller stopped")
					return ctx.Err()
				}
				return err
			}
			p.logger.Debug().Dur("next_delay", delay).Msg("Tick scheduled")
			timer.Reset(delay)
		}
	}
}

// Tick runs one scheduled poll and returns the delay until the next one.
// It returns an error only when ctx ends.
func (p *Poller[T]) Tick(ctx context.Context) (time.Duration, error) {
	if p.opts.Blocking {
		if err := p.limiter.Acquire(ctx); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
	} else if ok, wait := p.limiter.TryAcquire(ctx); !ok {
		pollerPollsTotal.WithLabelValues(p.name, "deferred").Inc()
		p.logger.Debug().Dur("wait", wait).Msg("Admission deferred")
		return max(wait, time.Millisecond), nil
	}

	p.mu.Lock()
	cmp := Comparison{
		PreviousMarker: p.state.LastMarker,
		ETag:           p.state.LastETag,
		LastModified:   p.state.LastModified,
	}
	p.mu.Unlock()

	res, err := p.fetchWithRetry(ctx, cmp)
	if err != nil && errors.Is(err, ErrContextCancelled) {
		return 0, err
	}

	now := p.opts.Clock.Now()

	if err != nil {
		p.recordFailure(err)
		pollerPollsTotal.WithLabelValues(p.name, "error").Inc()
		p.OnNoChange(now)
		return p.NextDelay(now), nil
	}

	exec := p.classify(cmp, res, now)
	p.recordSuccess(res)

	if !exec.Decision.Changed() {
		pollerPollsTotal.WithLabelValues(p.name, "no_change").Inc()
		p.OnNoChange(now)
		return p.NextDelay(now), nil
	}

	if exec.Decision.Previous == "" {
		// Nothing to compare against yet: publish the payload but keep the
		// observation out of the period estimate.
		pollerPollsTotal.WithLabelValues(p.name, "baseline").Inc()
		p.OnBaseline(exec, now)
		p.forward(ctx, exec)
		return p.NextDelay(now), nil
	}

	pollerPollsTotal.WithLabelValues(p.name, "changed").Inc()
	p.OnChanged(exec, now)
	p.forward(ctx, exec)
	return p.NextDelay(now), nil
}

func (p *Poller[T]) classify(cmp Comparison, res FetchResult[T], now time.Time) Execution[T] {
	exec := Execution[T]{
		FetchedAt: now,
		Transport: res.Transport,
	}
	if res.NotModified {
		exec.Decision = detect.Compare(cmp.PreviousMarker, cmp.PreviousMarker)
		return exec
	}
	exec.Decision = detect.Compare(cmp.PreviousMarker, res.Marker)
	exec.Payload = res.Payload
	exec.HasPayload = res.HasPayload
	return exec
}

func (p *Poller[T]) forward(ctx context.Context, exec Execution[T]) {
	if p.sink == nil {
		return
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, p.opts.EnqueueTimeout)
	defer cancel()

	if err := p.sink.Put(enqueueCtx, exec); err != nil {
		p.logger.Warn().
			Err(err).
			Str("marker", exec.Decision.Current).
			Msg("Changed payload not handed to pipeline")
	}
}

func (p *Poller[T]) recordSuccess(res FetchResult[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.ConsecutiveErrors > 0 {
		p.logger.Info().
			Int("consecutive_errors", p.state.ConsecutiveErrors).
			Msg("Fetch recovered")
	}
	p.state.ConsecutiveErrors = 0
	p.state.LastError = ""
	if res.ETag != "" {
		p.state.LastETag = res.ETag
	}
	if res.LastModified != "" {
		p.state.LastModified = res.LastModified
	}
	pollerConsecutiveErrors.WithLabelValues(p.name).Set(0)
}

func (p *Poller[T]) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.ConsecutiveErrors++
	p.state.LastError = err.Error()
	pollerConsecutiveErrors.WithLabelValues(p.name).Set(float64(p.state.ConsecutiveErrors))

	p.logger.Error().
		Err(err).
		Str("error_class", errorClass(err)).
		Int("consecutive_errors", p.state.ConsecutiveErrors).
		Msg("Fetch failed, counting tick as no change")
}

// transition records a mode change. Caller holds mu.
func (p *Poller[T]) transition(from, to Mode) {
	if from == to {
		return
	}
	pollerTransitionsTotal.WithLabelValues(p.name, string(from), string(to)).Inc()
	p.publishMode(to)
	p.logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Mode transition")
}

func (p *Poller[T]) publishMode(current Mode) {
	for _, m := range Modes {
		v := 0.0
		if m == current {
			v = 1
		}
		pollerMode.WithLabelValues(p.name, string(m)).Set(v)
	}
}
