package poller

import (
	"math"
	"time"

	"github.com/Sternrassler/hypixel-market-poller/pkg/config"
)

// tuning is an Endpoint resolved into the durations the state machine uses.
type tuning struct {
	periodHint     time.Duration
	warmupInterval time.Duration
	warmupMax      time.Duration
	guard          time.Duration
	burstInterval  time.Duration
	burstWindow    time.Duration
	backoff        time.Duration
	minPeriod      time.Duration
	maxPeriod      time.Duration
	alpha          float64
	windowSize     int
	retries        int
	fetchTimeout   time.Duration
}

func newTuning(cfg config.Endpoint) tuning {
	// No mode may poll faster than maxBurstRate.
	var floor time.Duration
	if cfg.MaxBurstRate > 0 {
		floor = time.Duration(float64(time.Second) / cfg.MaxBurstRate)
	}

	return tuning{
		periodHint:     cfg.PeriodHint,
		warmupInterval: cfg.WarmupInterval,
		warmupMax:      cfg.WarmupMaxDuration(),
		guard:          cfg.GuardWindow(),
		burstInterval:  max(cfg.BurstInterval(), floor),
		burstWindow:    cfg.BurstWindow(),
		backoff:        max(cfg.BackoffInterval, floor),
		minPeriod:      cfg.MinPeriod(),
		maxPeriod:      cfg.MaxPeriod(),
		alpha:          cfg.EMAAlpha,
		windowSize:     cfg.EstimatorWindowSize,
		retries:        cfg.TransientRetries,
		fetchTimeout:   cfg.FetchDeadline(),
	}
}

func (t tuning) clampPeriod(d time.Duration) time.Duration {
	if d < t.minPeriod {
		return t.minPeriod
	}
	if d > t.maxPeriod {
		return t.maxPeriod
	}
	return d
}

// expectedChange returns the next instant a change is expected. Once the
// burst window around the projected instant lies behind now, or a burst
// already started inside its guard window, the projection moves forward by
// whole periods. ok is false without a change anchor.
func (t tuning) expectedChange(s *State, now time.Time) (time.Time, bool) {
	if s.LastChangeAt.IsZero() || s.EstimatedPeriod <= 0 {
		return time.Time{}, false
	}

	expected := s.LastChangeAt.Add(s.EstimatedPeriod)
	if end := expected.Add(t.burstWindow); !now.Before(end) {
		periods := now.Sub(end)/s.EstimatedPeriod + 1
		expected = expected.Add(periods * s.EstimatedPeriod)
	}
	if s.BurstStartedAt.After(s.LastChangeAt) && !s.BurstStartedAt.Before(expected.Add(-t.guard)) {
		expected = expected.Add(s.EstimatedPeriod)
	}
	return expected, true
}

// guardOpensAt is the start of the guard window: the expected change minus
// the clamped guard duration. BURST begins at or after this instant.
func (t tuning) guardOpensAt(s *State, now time.Time) (time.Time, bool) {
	expected, ok := t.expectedChange(s, now)
	if !ok {
		return time.Time{}, false
	}
	return expected.Add(-t.guard), true
}

// observeNoChange applies a NO_CHANGE observation and returns the new mode.
func (t tuning) observeNoChange(s *State, now time.Time) Mode {
	s.LastPollAt = now

	switch s.Mode {
	case ModeWarmup:
		if s.WarmupStartedAt.IsZero() {
			s.WarmupStartedAt = now
		}
		if now.Sub(s.WarmupStartedAt) >= t.warmupMax {
			s.Mode = ModeSteady
		}

	case ModeSteady:
		// A STEADY tick is scheduled onto the guard opening, so once a change
		// anchor exists the observation that follows always starts the burst.
		if expected, ok := t.expectedChange(s, now); ok {
			s.ExpectedNextChangeAt = expected
			s.Mode = ModeBurst
			s.BurstStartedAt = now
		}

	case ModeBurst:
		if s.BurstStartedAt.IsZero() {
			s.BurstStartedAt = now
		}
		if now.Sub(s.BurstStartedAt) >= t.burstWindow {
			s.MissCount++
			s.Mode = ModeBackoff
		}

	case ModeBackoff:
		s.Mode = ModeSteady

	default:
		s.Mode = ModeWarmup
	}

	return s.Mode
}

// observeChange applies a CHANGED observation and returns the new mode,
// which is always STEADY.
func (t tuning) observeChange(s *State, marker string, now time.Time) Mode {
	s.LastPollAt = now

	if !s.LastChangeAt.IsZero() && now.After(s.LastChangeAt) {
		interval := now.Sub(s.LastChangeAt)
		filled := t.windowSize > 0 && len(s.RecentIntervals) < t.windowSize
		s.RecentIntervals = append(s.RecentIntervals, interval)
		if over := len(s.RecentIntervals) - t.windowSize; t.windowSize > 0 && over > 0 {
			s.RecentIntervals = append(s.RecentIntervals[:0:0], s.RecentIntervals[over:]...)
		}
		filled = filled && len(s.RecentIntervals) == t.windowSize

		if filled {
			// The first full window replaces whatever the hint contributed.
			s.EstimatedPeriod = mean(s.RecentIntervals)
		} else {
			s.EstimatedPeriod = time.Duration(t.alpha*float64(interval) + (1-t.alpha)*float64(s.EstimatedPeriod))
		}
	}
	s.EstimatedPeriod = t.clampPeriod(s.EstimatedPeriod)

	s.LastChangeAt = now
	s.ExpectedNextChangeAt = now.Add(s.EstimatedPeriod)
	s.UpdateCount++
	if marker != "" {
		s.LastMarker = marker
	}
	s.Mode = ModeSteady

	return s.Mode
}

// nextDelay returns how long to wait before the next tick.
func (t tuning) nextDelay(s *State, now time.Time) time.Duration {
	switch s.Mode {
	case ModeSteady:
		open, ok := t.guardOpensAt(s, now)
		if !ok {
			return max(s.EstimatedPeriod/4, t.burstInterval)
		}
		return max(open.Sub(now), t.burstInterval)
	case ModeBurst:
		return t.burstInterval
	case ModeBackoff:
		return t.backoff
	default:
		return t.warmupInterval
	}
}

func mean(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

// lag is how far an observed change landed from the expected instant.
func lag(expected, observed time.Time) time.Duration {
	if expected.IsZero() {
		return 0
	}
	return time.Duration(math.Abs(float64(observed.Sub(expected))))
}
