package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// stateRetention keeps quota keys around a little past the reported reset so
// a reader can still see the last value, after which Redis expires them.
const stateRetention = 5 * time.Second

// Prometheus metrics for quota tracking.
var (
	upstreamQuotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_upstream_quota_remaining",
		Help: "Requests remaining in the current Hypixel quota window",
	})

	upstreamQuotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_upstream_quota_blocks_total",
		Help: "Total number of admissions held back by a critical upstream quota",
	})

	upstreamQuotaThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_upstream_quota_throttles_total",
		Help: "Total number of admissions slowed by a warning upstream quota",
	})
)

// QuotaDecision is the tracker's verdict for the next request.
type QuotaDecision struct {
	Status QuotaStatus

	// Wait is how long to hold the request back. Non-zero only when critical.
	Wait time.Duration

	Remaining int
}

// Tracker records the upstream quota from response headers and evaluates it
// before requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new quota tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves the current quota state from Redis.
// Returns a default healthy state if no data exists.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	vals, err := t.redis.MGet(ctx, RedisKeyRemaining, RedisKeyLimit, RedisKeyResetTimestamp, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get quota state: %w", err)
	}

	if vals[0] == nil {
		t.logger.Debug().Msg("No quota state in Redis, returning default healthy state")
		now := time.Now()
		return &QuotaState{
			Remaining:  QuotaThresholdHealthy * 2, // assume healthy until we see real headers
			ResetAt:    now.Add(60 * time.Second),
			LastUpdate: now,
			IsHealthy:  true,
		}, nil
	}

	remaining, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}

	state := &QuotaState{Remaining: remaining}

	if vals[1] != nil {
		if state.Limit, err = strconv.Atoi(fmt.Sprint(vals[1])); err != nil {
			return nil, fmt.Errorf("parse limit: %w", err)
		}
	}

	if vals[2] != nil {
		resetUnix, err := strconv.ParseInt(fmt.Sprint(vals[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse reset timestamp: %w", err)
		}
		state.ResetAt = time.Unix(resetUnix, 0)
	}

	if vals[3] != nil {
		if err := json.Unmarshal([]byte(fmt.Sprint(vals[3])), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state.UpdateHealth()
	return state, nil
}

// ParseHeaders extracts the quota from Hypixel response headers.
// It returns nil, nil when the response carries no quota headers.
func ParseHeaders(headers http.Header, now time.Time) (*QuotaState, error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		// Keyless or cached responses carry no quota.
		return nil, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return nil, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	state := &QuotaState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}

	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		if state.Limit, err = strconv.Atoi(limitStr); err != nil {
			return nil, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
	}

	state.UpdateHealth()
	return state, nil
}

// UpdateFromHeaders parses the quota headers and stores the state in Redis.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, err := ParseHeaders(headers, time.Now())
	if err != nil || state == nil {
		return err
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	ttl := state.TimeUntilReset() + stateRetention

	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, ttl)
	pipe.Set(ctx, RedisKeyLimit, state.Limit, ttl)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota state in redis: %w", err)
	}

	upstreamQuotaRemaining.Set(float64(state.Remaining))

	switch state.Status() {
	case QuotaCritical:
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Hypixel quota CRITICAL - requests will be held until reset")
	case QuotaWarning:
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Hypixel quota WARNING - admission will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Hypixel quota state updated")
	}

	return nil
}

// Evaluate decides how the next request should be treated under the current quota.
func (t *Tracker) Evaluate(ctx context.Context) (QuotaDecision, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return QuotaDecision{Status: QuotaHealthy}, fmt.Errorf("get quota state: %w", err)
	}

	decision := QuotaDecision{Status: state.Status(), Remaining: state.Remaining}

	switch decision.Status {
	case QuotaCritical:
		decision.Wait = state.TimeUntilReset()
		upstreamQuotaBlocksTotal.Inc()
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", decision.Wait).
			Msg("Hypixel quota critical - holding request")
	case QuotaWarning:
		upstreamQuotaThrottlesTotal.Inc()
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Hypixel quota warning - throttling admission")
	}

	return decision, nil
}
