package poller

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// retryJitter spreads retry waits by ±20% so sources failing together do not
// retry in lockstep.
func retryJitter(backoff time.Duration) time.Duration {
	return time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
}

// fetchWithRetry performs one tick's fetch. Transient failures are retried up
// to the configured number of times, waiting the source's backoff between
// attempts and taking fresh admission before each retry. The caller has
// already been admitted for the first attempt.
func (p *Poller[T]) fetchWithRetry(ctx context.Context, cmp Comparison) (FetchResult[T], error) {
	maxAttempts := p.tuning.retries + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.limiter.Acquire(ctx); err != nil {
				return FetchResult[T]{}, fmt.Errorf("%w: %w", ErrContextCancelled, err)
			}
		}

		res, err := p.fetchOnce(ctx, cmp)
		if err == nil {
			if attempt > 1 {
				p.logger.Info().
					Int("attempt", attempt).
					Msg("Fetch succeeded after retry")
			}
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return FetchResult[T]{}, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}

		if !IsRetryable(err) {
			// Permanent failures (bad key, open circuit) gain nothing from another attempt.
			return FetchResult[T]{}, err
		}

		if attempt >= maxAttempts {
			break
		}

		class := errorClass(err)
		pollerRetriesTotal.WithLabelValues(p.name, class).Inc()

		wait := retryJitter(p.tuning.backoff)
		p.logger.Warn().
			Err(err).
			Str("error_class", class).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Fetch failed, retrying after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return FetchResult[T]{}, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	pollerRetryExhaustedTotal.WithLabelValues(p.name, errorClass(lastErr)).Inc()
	return FetchResult[T]{}, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}

// fetchOnce bounds a single attempt by the fetch deadline. A timed-out
// attempt surfaces as context.DeadlineExceeded, which is transient.
func (p *Poller[T]) fetchOnce(ctx context.Context, cmp Comparison) (FetchResult[T], error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.tuning.fetchTimeout)
	defer cancel()
	return p.fetch(attemptCtx, cmp)
}
