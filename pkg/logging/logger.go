// Package logging configures zerolog for the market poller.
//
// Every long-lived component (poller, pipeline, limiter, fetch client) receives a
// zerolog.Logger by value from NewLogger and adds its own "source" field, so a
// single source's history can be filtered out of the combined stream.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs every tick and transition.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs mode transitions, detected changes and lifecycle events.
	LevelInfo LogLevel = "info"

	// LevelWarn logs retries, coalesced drops and handler failures.
	LevelWarn LogLevel = "warn"

	// LevelError logs exhausted retries, permanent upstream errors and shutdown timeouts.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05.000"}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForSource derives a logger tagged with the polled source name.
func ForSource(logger zerolog.Logger, source string) zerolog.Logger {
	return logger.With().Str("source", source).Logger()
}

// Nop returns a logger that discards everything. Used by tests and by
// constructors that were handed a zero-value logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Log Level Guidelines:
//
// Debug: per-tick detail
//   - admission waits, fetch attempts, markers compared
//   - next delay chosen per mode
//
// Info: normal operation events
//   - mode transitions (WARMUP -> STEADY, STEADY -> BURST, ...)
//   - detected changes with learned period
//   - service startup/shutdown
//
// Warn: degraded but operating
//   - transient fetch failures and retries
//   - upstream quota in warning state
//   - coalesced (dropped) pipeline items, handler errors
//
// Error: needs attention
//   - retries exhausted, permanent 4xx (bad API key)
//   - critical upstream quota
//   - pipeline shutdown timed out with discarded items
//
// Context Fields:
//   - source: polled source name (auctions, bazaar)
//   - mode / from / to: poller mode
//   - marker: change-detection marker
//   - estimated_period: learned change period
//   - attempt: retry attempt number
//   - status_code, error_class: upstream failure detail
//   - correlation_id: handler panic id
