// Package config defines and loads the market poller configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. The result is validated once at startup; an invalid
// configuration is a fatal error and never surfaces at poll time.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Hypixel  HypixelConfig  `koanf:"hypixel"`
	Adaptive AdaptiveConfig `koanf:"adaptive"`
	Redis    RedisConfig    `koanf:"redis"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// HypixelConfig describes the upstream API.
type HypixelConfig struct {
	APIURL    string `koanf:"api_url" validate:"required,url"`
	APIKey    string `koanf:"api_key"`
	UserAgent string `koanf:"user_agent" validate:"required"`

	// PageConcurrency caps parallel page requests of a paginated fetch.
	// Every page still takes admission from the global limiter.
	PageConcurrency int `koanf:"page_concurrency" validate:"gte=1"`
}

// AdaptiveConfig groups the polling core settings.
type AdaptiveConfig struct {
	Enabled bool `koanf:"enabled"`

	// GlobalMaxRequestsPerSecond bounds the aggregate request rate across all
	// sources. Requests are spaced 1/rate apart, so a fractional value caps
	// any single second at the value rounded up.
	GlobalMaxRequestsPerSecond float64 `koanf:"global_max_requests_per_second" validate:"gte=0.1"`

	// BlockingAdmission makes pollers wait for limiter admission instead of
	// rescheduling their tick when the budget is exhausted.
	BlockingAdmission bool `koanf:"blocking_admission"`

	Auctions Endpoint `koanf:"auctions"`
	Bazaar   Endpoint `koanf:"bazaar"`
	Pipeline Pipeline `koanf:"pipeline"`
}

// Endpoints returns the configured sources in a stable order.
func (a AdaptiveConfig) Endpoints() []Endpoint {
	return []Endpoint{a.Auctions, a.Bazaar}
}

// Pipeline configures the per-source processing pipelines.
type Pipeline struct {
	QueueCapacity   int  `koanf:"queue_capacity" validate:"gte=1"`
	CoalesceEnabled bool `koanf:"coalesce_enabled"`

	// EnqueueTimeout bounds how long a poller waits for queue room when
	// coalescing is disabled. Past it the item is rejected and counted.
	EnqueueTimeout time.Duration `koanf:"enqueue_timeout" validate:"gt=0"`

	// DrainOnShutdown processes queued items during shutdown (bounded by
	// ShutdownTimeout) instead of discarding them immediately.
	DrainOnShutdown bool          `koanf:"drain_on_shutdown"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// Endpoint holds the static tuning of one polled source.
type Endpoint struct {
	Name       string        `koanf:"name" validate:"required"`
	Path       string        `koanf:"path" validate:"required,startswith=/"`
	PeriodHint time.Duration `koanf:"period_hint" validate:"gt=0"`

	WarmupInterval   time.Duration `koanf:"warmup_interval" validate:"gt=0"`
	WarmupMaxSeconds int           `koanf:"warmup_max_seconds" validate:"gte=1"`

	GuardWindowMs    int64 `koanf:"guard_window_ms" validate:"gte=1"`
	MinGuardWindowMs int64 `koanf:"min_guard_window_ms" validate:"gte=1"`
	MaxGuardWindowMs int64 `koanf:"max_guard_window_ms" validate:"gte=1,gtefield=MinGuardWindowMs"`

	BurstIntervalMs int64         `koanf:"burst_interval_ms" validate:"gte=1"`
	BurstWindowMs   int64         `koanf:"burst_window_ms" validate:"gte=1"`
	BackoffInterval time.Duration `koanf:"backoff_interval" validate:"gt=0"`
	MaxBurstRate    float64       `koanf:"max_burst_rate" validate:"gte=0.1"`

	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`

	// FetchTimeout bounds one whole fetch, every page included. Zero means
	// RequestTimeout, which suits single-request sources.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"gte=0"`

	// EstimatorWindowSize bounds the recent change intervals kept per source.
	// The change that first fills the window reseeds the period estimate with
	// the window mean; smoothing continues from there.
	EstimatorWindowSize int     `koanf:"estimator_window_size" validate:"gte=3"`
	EMAAlpha            float64 `koanf:"ema_alpha" validate:"gte=0.01,lte=1"`
	MinPeriodMultiplier float64 `koanf:"min_period_multiplier" validate:"gte=0.1"`
	MaxPeriodMultiplier float64 `koanf:"max_period_multiplier" validate:"gte=0.5,gtefield=MinPeriodMultiplier"`

	TransientRetries int `koanf:"transient_retries" validate:"gte=0"`
}

// WarmupMaxDuration is the longest time a source stays in warmup.
func (e Endpoint) WarmupMaxDuration() time.Duration {
	return time.Duration(e.WarmupMaxSeconds) * time.Second
}

// FetchDeadline is the bound applied to one fetch attempt.
func (e Endpoint) FetchDeadline() time.Duration {
	return max(e.FetchTimeout, e.RequestTimeout)
}

// GuardWindow returns the guard window clamped to its configured bounds.
func (e Endpoint) GuardWindow() time.Duration {
	ms := e.GuardWindowMs
	if ms < e.MinGuardWindowMs {
		ms = e.MinGuardWindowMs
	}
	if ms > e.MaxGuardWindowMs {
		ms = e.MaxGuardWindowMs
	}
	return time.Duration(ms) * time.Millisecond
}

// BurstInterval is the polling interval while bursting.
func (e Endpoint) BurstInterval() time.Duration {
	return time.Duration(e.BurstIntervalMs) * time.Millisecond
}

// BurstWindow is how long a burst lasts before the source is considered to have missed.
func (e Endpoint) BurstWindow() time.Duration {
	return time.Duration(e.BurstWindowMs) * time.Millisecond
}

// MinPeriod is the lower clamp of the learned period.
func (e Endpoint) MinPeriod() time.Duration {
	return time.Duration(float64(e.PeriodHint) * e.MinPeriodMultiplier)
}

// MaxPeriod is the upper clamp of the learned period.
func (e Endpoint) MaxPeriod() time.Duration {
	return time.Duration(float64(e.PeriodHint) * e.MaxPeriodMultiplier)
}

// RedisConfig configures the optional Redis backend used for the shared
// upstream quota state and the latest-snapshot cache.
type RedisConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Addr        string        `koanf:"addr" validate:"required_if=Enabled true"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db" validate:"gte=0"`
	SnapshotTTL time.Duration `koanf:"snapshot_ttl" validate:"gt=0"`
}

// ServerConfig configures the operator HTTP surface.
type ServerConfig struct {
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Pretty bool   `koanf:"pretty"`
}

// DefaultEndpoint returns an endpoint carrying the default tuning.
func DefaultEndpoint(name, path string, periodHint time.Duration) Endpoint {
	return Endpoint{
		Name:                name,
		Path:                path,
		PeriodHint:          periodHint,
		WarmupInterval:      2 * time.Second,
		WarmupMaxSeconds:    90,
		GuardWindowMs:       400,
		MinGuardWindowMs:    250,
		MaxGuardWindowMs:    1200,
		BurstIntervalMs:     500,
		BurstWindowMs:       4000,
		BackoffInterval:     2 * time.Second,
		MaxBurstRate:        2.0,
		RequestTimeout:      8 * time.Second,
		ConnectTimeout:      2 * time.Second,
		EstimatorWindowSize: 7,
		EMAAlpha:            0.25,
		MinPeriodMultiplier: 0.6,
		MaxPeriodMultiplier: 1.8,
		TransientRetries:    2,
	}
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	auctions := DefaultEndpoint("auctions", "/skyblock/auctions", 20*time.Second)
	auctions.FetchTimeout = 90 * time.Second

	return Config{
		Hypixel: HypixelConfig{
			APIURL:          "https://api.hypixel.net/v2",
			UserAgent:       "hypixel-market-poller/0.1.0",
			PageConcurrency: 4,
		},
		Adaptive: AdaptiveConfig{
			Enabled:                    true,
			GlobalMaxRequestsPerSecond: 3.0,
			BlockingAdmission:          true,
			Auctions:                   auctions,
			Bazaar:                     DefaultEndpoint("bazaar", "/skyblock/bazaar", 60*time.Second),
			Pipeline: Pipeline{
				QueueCapacity:   1,
				CoalesceEnabled: true,
				EnqueueTimeout:  2 * time.Second,
				DrainOnShutdown: true,
				ShutdownTimeout: 10 * time.Second,
			},
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			SnapshotTTL: 10 * time.Minute,
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
