package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// WarningRateFactor scales the admission rate while the upstream quota is in
// warning state.
const WarningRateFactor = 0.5

var (
	limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "market_limiter_wait_seconds",
		Help:    "Time spent waiting for global request admission",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	limiterDeferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_limiter_deferred_total",
		Help: "Total number of non-blocking admissions answered with not yet",
	})
)

// QuotaSource reports the upstream quota. *Tracker implements it.
type QuotaSource interface {
	Evaluate(ctx context.Context) (QuotaDecision, error)
}

// Limiter is the global admission gate shared by all pollers.
// Admissions are spaced at least 1/requestsPerSecond apart with a burst of
// one, so the long-run rate never exceeds the budget. A single rolling second
// can hold up to ceil(requestsPerSecond) admissions: at 1.5 two requests
// 667ms apart share one second. Configure a whole number where a hard
// per-second cap matters. Safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
	base    rate.Limit
	quota   QuotaSource
	logger  zerolog.Logger
}

// NewLimiter creates the global limiter. quota may be nil.
func NewLimiter(requestsPerSecond float64, quota QuotaSource, logger zerolog.Logger) *Limiter {
	r := rate.Limit(requestsPerSecond)
	return &Limiter{
		limiter: rate.NewLimiter(r, 1),
		base:    r,
		quota:   quota,
		logger:  logger,
	}
}

// Limit returns the admission rate currently in force.
func (l *Limiter) Limit() float64 {
	return float64(l.limiter.Limit())
}

// Acquire blocks until one request is admitted or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	defer func() {
		limiterWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	if wait := l.checkQuota(ctx); wait > 0 {
		l.logger.Debug().Dur("wait_duration", wait).Msg("Waiting for upstream quota reset")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for quota reset: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for admission: %w", err)
	}
	return nil
}

// TryAcquire admits one request if budget is available right now. Otherwise
// it consumes nothing and returns the delay after which admission is expected
// to succeed.
func (l *Limiter) TryAcquire(ctx context.Context) (bool, time.Duration) {
	if wait := l.checkQuota(ctx); wait > 0 {
		limiterDeferredTotal.Inc()
		return false, wait
	}

	now := time.Now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		limiterDeferredTotal.Inc()
		return false, time.Second
	}

	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		limiterDeferredTotal.Inc()
		return false, delay
	}
	return true, 0
}

// checkQuota consults the upstream quota, adjusts the admission rate and
// returns how long a critical quota wants requests held. Quota errors fail open.
func (l *Limiter) checkQuota(ctx context.Context) time.Duration {
	if l.quota == nil {
		return 0
	}

	decision, err := l.quota.Evaluate(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Upstream quota unavailable, admitting on local budget only")
		l.setRate(l.base)
		return 0
	}

	switch decision.Status {
	case QuotaWarning:
		l.setRate(l.base * WarningRateFactor)
	default:
		l.setRate(l.base)
	}

	if decision.Status == QuotaCritical {
		return decision.Wait
	}
	return 0
}

func (l *Limiter) setRate(r rate.Limit) {
	if l.limiter.Limit() != r {
		l.limiter.SetLimit(r)
		l.logger.Info().Float64("requests_per_second", float64(r)).Msg("Admission rate changed")
	}
}
