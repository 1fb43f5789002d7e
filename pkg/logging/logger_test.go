package logging

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// capture routes the global logger into a buffer for one test.
func capture(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	Setup(Config{Level: level, Output: buf})
	t.Cleanup(func() {
		Setup(Config{Level: LevelInfo, Output: &bytes.Buffer{}})
	})
	return buf
}

// lines decodes every JSON log line written to buf.
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("log line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, entry)
	}
	return out
}

func messages(entries []map[string]any) []string {
	msgs := make([]string, 0, len(entries))
	for _, e := range entries {
		msg, _ := e["message"].(string)
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo || cfg.Pretty || cfg.Output == nil {
		t.Errorf("DefaultConfig() = %+v, want info JSON to stderr", cfg)
	}
}

func TestSetup_LevelGatesPollerEvents(t *testing.T) {
	emit := func(l zerolog.Logger) {
		l.Debug().Dur("next_delay", time.Second).Msg("Tick scheduled")
		l.Info().Str("from", "STEADY").Str("to", "BURST").Msg("Mode transition")
		l.Warn().Int("attempt", 1).Msg("Fetch failed, retrying after backoff")
		l.Error().Str("error_class", "client").Msg("Fetch failed, counting tick as no change")
	}

	tests := []struct {
		level LogLevel
		want  []string
	}{
		{LevelDebug, []string{"Tick scheduled", "Mode transition", "Fetch failed, retrying after backoff", "Fetch failed, counting tick as no change"}},
		{LevelInfo, []string{"Mode transition", "Fetch failed, retrying after backoff", "Fetch failed, counting tick as no change"}},
		{LevelWarn, []string{"Fetch failed, retrying after backoff", "Fetch failed, counting tick as no change"}},
		{LevelError, []string{"Fetch failed, counting tick as no change"}},
		{"disabled", nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := capture(t, tt.level)
			emit(NewLogger("poller"))

			got := messages(lines(t, buf))
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("level %s logged %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	// Every value the logging.level setting accepts, plus fallbacks.
	tests := []struct {
		input LogLevel
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"OFF", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestForSource(t *testing.T) {
	tests := []struct {
		component string
		source    string
	}{
		{"poller", "bazaar"},
		{"poller", "auctions"},
		{"pipeline", "auctions"},
	}

	for _, tt := range tests {
		t.Run(tt.component+"/"+tt.source, func(t *testing.T) {
			buf := capture(t, LevelInfo)
			base := NewLogger(tt.component)

			taggedLogger := ForSource(base, tt.source)
			taggedLogger.Info().Str("marker", "1700000000000").Msg("Change detected")
			base.Info().Msg("Service started")

			entries := lines(t, buf)
			if len(entries) != 2 {
				t.Fatalf("logged %d lines, want 2", len(entries))
			}
			tagged, plain := entries[0], entries[1]

			if tagged["component"] != tt.component || tagged["source"] != tt.source {
				t.Errorf("tagged line = %v, want component %s and source %s", tagged, tt.component, tt.source)
			}
			if tagged["marker"] != "1700000000000" {
				t.Errorf("marker = %v", tagged["marker"])
			}
			if _, ok := plain["source"]; ok {
				t.Errorf("ForSource must not tag the parent logger, got %v", plain)
			}
		})
	}
}

func TestSetup_DurationsInMilliseconds(t *testing.T) {
	buf := capture(t, LevelInfo)
	logger := ForSource(NewLogger("poller"), "bazaar")
	logger.Info().
		Dur("estimated_period", 20*time.Second).
		Msg("Change detected")

	entries := lines(t, buf)
	if len(entries) != 1 {
		t.Fatalf("logged %d lines, want 1", len(entries))
	}
	if got := entries[0]["estimated_period"]; got != float64(20000) {
		t.Errorf("estimated_period = %v, want 20000 (ms)", got)
	}
	if _, ok := entries[0]["time"]; !ok {
		t.Error("lines must carry a timestamp")
	}
}

func TestSetup_PrettyConsole(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	t.Cleanup(func() {
		Setup(Config{Level: LevelInfo, Output: &bytes.Buffer{}})
	})

	logger := ForSource(NewLogger("poller"), "auctions")
	logger.Info().Msg("Poller started")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("pretty output should not be JSON, got %q", out)
	}
	if !strings.Contains(out, "Poller started") || !strings.Contains(out, "auctions") {
		t.Errorf("pretty output = %q, want message and source", out)
	}
}

func TestSetup_NilOutputFallsBackToStderr(t *testing.T) {
	logger := Setup(Config{Level: LevelError})
	logger.Debug().Msg("filtered")

	Setup(Config{Level: LevelInfo, Output: &bytes.Buffer{}})
}

func TestNop(t *testing.T) {
	logger := ForSource(Nop(), "bazaar")
	logger.Error().Msg("discarded")
}
