// Package ratelimit gates upstream requests for all polled sources.
//
// Limiter is the single admission gate shared by every poller: it bounds the
// aggregate request rate to the configured budget. Tracker optionally feeds it
// the upstream quota reported by Hypixel in the RateLimit-Remaining and
// RateLimit-Reset response headers, shared across processes through Redis, so
// a nearly exhausted key holds requests back until the quota window resets.
package ratelimit

import (
	"time"
)

// Redis keys for quota state storage.
const (
	RedisKeyRemaining      = "hypixel:rate_limit:remaining"
	RedisKeyLimit          = "hypixel:rate_limit:limit"
	RedisKeyResetTimestamp = "hypixel:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "hypixel:rate_limit:last_update"
)

// Response headers carrying the upstream quota.
const (
	HeaderLimit     = "RateLimit-Limit"
	HeaderRemaining = "RateLimit-Remaining"
	HeaderReset     = "RateLimit-Reset"
)

// Thresholds for quota decisions, in requests remaining.
const (
	// QuotaThresholdCritical holds back all requests until the window resets.
	QuotaThresholdCritical = 5

	// QuotaThresholdWarning slows admission down.
	QuotaThresholdWarning = 20

	// QuotaThresholdHealthy indicates normal operation.
	QuotaThresholdHealthy = 50
)

// QuotaStatus classifies a QuotaState.
type QuotaStatus string

const (
	QuotaHealthy  QuotaStatus = "healthy"
	QuotaWarning  QuotaStatus = "warning"
	QuotaCritical QuotaStatus = "critical"
)

// QuotaState is the upstream request quota as last reported by Hypixel.
// It is shared across poller processes via Redis.
type QuotaState struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// Limit is the window size reported by RateLimit-Limit, 0 if absent.
	Limit int `json:"limit"`

	// ResetAt is when the window resets, derived from RateLimit-Reset
	// (seconds until reset).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was observed.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= QuotaThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// IsExpired returns true once the reported window has reset, after which
// Remaining no longer says anything about the current window.
func (s *QuotaState) IsExpired() bool {
	return !s.ResetAt.IsZero() && !time.Now().Before(s.ResetAt)
}

// NeedsCriticalBlock returns true if requests must wait for the reset.
func (s *QuotaState) NeedsCriticalBlock() bool {
	return s.Remaining < QuotaThresholdCritical && !s.IsExpired()
}

// NeedsThrottling returns true if admission should slow down.
func (s *QuotaState) NeedsThrottling() bool {
	return s.Remaining < QuotaThresholdWarning && !s.NeedsCriticalBlock() && !s.IsExpired()
}

// Status classifies the state.
func (s *QuotaState) Status() QuotaStatus {
	switch {
	case s.NeedsCriticalBlock():
		return QuotaCritical
	case s.NeedsThrottling():
		return QuotaWarning
	default:
		return QuotaHealthy
	}
}

// TimeUntilReset returns the duration until the window resets, or 0 if it
// already has.
func (s *QuotaState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *QuotaState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= QuotaThresholdHealthy
}
