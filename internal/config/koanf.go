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

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/strava-duel/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envMappings maps environment variable names (lowercased) to koanf paths.
// Legacy names such as CLIENT_SECRET are kept as aliases.
var envMappings = map[string]string{
	"strava_client_id":      "strava.client_id",
	"strava_client_secret":  "strava.client_secret",
	"client_secret":         "strava.client_secret",
	"strava_token_url":      "strava.token_url",
	"strava_api_base":       "strava.api_base",
	"strava_page_size":      "strava.page_size",
	"strava_refresh_margin": "strava.refresh_margin",
	"strava_timeout":        "strava.request_timeout",
	"strava_rate_limit":     "strava.rate_limit",
	"strava_rate_burst":     "strava.rate_burst",

	"duel_timezone":         "duel.timezone",
	"duel_refresh_interval": "duel.refresh_interval",
	"duel_cache_ttl":        "duel.cache_ttl",
	"duel_build_timeout":    "duel.build_timeout",

	"badger_path":      "store.path",
	"badger_in_memory": "store.in_memory",

	"http_host":         "server.host",
	"http_port":         "server.port",
	"shutdown_timeout":  "server.shutdown_timeout",
	"cors_origins":      "server.cors_origins",
	"rate_limit_reqs":   "server.rate_limit_reqs",
	"rate_limit_window": "server.rate_limit_window",
	"trusted_proxies":   "server.trusted_proxies",

	"google_calendar_id":          "calendar.id",
	"google_service_account":      "calendar.service_account",
	"google_service_account_file": "calendar.service_account_file",
	"calendar_sync_interval":      "calendar.sync_interval",
	"ics_path":                    "calendar.ics_path",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// sliceConfigPaths are split on commas when they arrive as strings from env.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"server.trusted_proxies",
}

// Load builds the configuration: defaults, then the config file, then env.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps an env var name to a koanf path. Unknown names
// return "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
