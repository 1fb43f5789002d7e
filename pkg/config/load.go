package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, first match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/market-poller/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix marks environment variables that map onto config paths.
// Nesting uses a double underscore: MARKET_ADAPTIVE__BAZAAR__EMA_ALPHA.
const EnvPrefix = "MARKET_"

// envShorthands maps conventional variable names onto config paths.
var envShorthands = map[string]string{
	"hypixel_api_key": "hypixel.api_key",
	"hypixel_api_url": "hypixel.api_url",
	"redis_url":       "redis.addr",
	"redis_password":  "redis.password",
	"port":            "server.port",
	"log_level":       "logging.level",
}

// Load builds the configuration from defaults, the first config file found
// and the environment, then validates it. A CONFIG_PATH that does not point
// at a readable file is an error.
func Load() (*Config, error) {
	path, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// File and environment go into their own layer so explicit settings can
	// be told apart from defaults.
	overlay := koanf.New(".")
	if path != "" {
		if err := overlay.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := overlay.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := k.Merge(overlay); err != nil {
		return nil, fmt.Errorf("merge configuration layers: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	// A Redis address supplied without an explicit enabled flag turns Redis on.
	if overlay.Exists("redis.addr") && !overlay.Exists("redis.enabled") {
		cfg.Redis.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() (string, error) {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file from %s: %w", ConfigPathEnvVar, err)
		}
		return p, nil
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envTransform maps an environment variable name to a koanf path.
// Returning "" makes koanf ignore the variable.
func envTransform(key string) string {
	lower := strings.ToLower(key)
	if path, ok := envShorthands[lower]; ok {
		return path
	}

	if !strings.HasPrefix(key, EnvPrefix) {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
}
