package poller

import (
	"time"
)

// Mode is the scheduling mode of a poller.
type Mode string

const (
	// ModeWarmup polls on a fixed short interval until the first change or a timeout.
	ModeWarmup Mode = "WARMUP"
	// ModeSteady polls coarsely, far from the expected change.
	ModeSteady Mode = "STEADY"
	// ModeBurst polls densely around the expected change.
	ModeBurst Mode = "BURST"
	// ModeBackoff sheds load after a burst that saw no change.
	ModeBackoff Mode = "BACKOFF"
)

// Modes lists every mode in transition order.
var Modes = []Mode{ModeWarmup, ModeSteady, ModeBurst, ModeBackoff}

// State is the mutable per-source scheduling record. Exactly one exists per
// source and only its Poller mutates it. Zero timestamps mean "unset".
type State struct {
	Mode Mode

	WarmupStartedAt      time.Time
	BurstStartedAt       time.Time
	LastPollAt           time.Time
	LastChangeAt         time.Time
	ExpectedNextChangeAt time.Time

	// EstimatedPeriod is the learned time between upstream changes.
	EstimatedPeriod time.Duration

	MissCount         uint64
	UpdateCount       uint64
	ConsecutiveErrors int

	// LastMarker is the marker of the last fetch accepted as changed.
	LastMarker string
	// LastETag and LastModified are validators for conditional requests.
	LastETag     string
	LastModified string

	// RecentIntervals holds the most recent observed change intervals, oldest first.
	RecentIntervals []time.Duration

	LastError string
}

// Snapshot is a read-only copy of a State for operators.
type Snapshot struct {
	Source string `json:"source"`
	Mode   Mode   `json:"mode"`

	EstimatedPeriodMs int64 `json:"estimated_period_ms"`

	WarmupStartedAt      *time.Time `json:"warmup_started_at,omitempty"`
	BurstStartedAt       *time.Time `json:"burst_started_at,omitempty"`
	LastPollAt           *time.Time `json:"last_poll_at,omitempty"`
	LastChangeAt         *time.Time `json:"last_change_at,omitempty"`
	ExpectedNextChangeAt *time.Time `json:"expected_next_change_at,omitempty"`

	MissCount         uint64 `json:"miss_count"`
	UpdateCount       uint64 `json:"update_count"`
	ConsecutiveErrors int    `json:"consecutive_errors"`

	LastMarker        string  `json:"last_marker,omitempty"`
	LastError         string  `json:"last_error,omitempty"`
	RecentIntervalsMs []int64 `json:"recent_intervals_ms,omitempty"`
}

func (s *State) snapshot(source string) Snapshot {
	snap := Snapshot{
		Source:               source,
		Mode:                 s.Mode,
		EstimatedPeriodMs:    s.EstimatedPeriod.Milliseconds(),
		WarmupStartedAt:      timePtr(s.WarmupStartedAt),
		BurstStartedAt:       timePtr(s.BurstStartedAt),
		LastPollAt:           timePtr(s.LastPollAt),
		LastChangeAt:         timePtr(s.LastChangeAt),
		ExpectedNextChangeAt: timePtr(s.ExpectedNextChangeAt),
		MissCount:            s.MissCount,
		UpdateCount:          s.UpdateCount,
		ConsecutiveErrors:    s.ConsecutiveErrors,
		LastMarker:           s.LastMarker,
		LastError:            s.LastError,
	}
	for _, iv := range s.RecentIntervals {
		snap.RecentIntervalsMs = append(snap.RecentIntervalsMs, iv.Milliseconds())
	}
	return snap
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
