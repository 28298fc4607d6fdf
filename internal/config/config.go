// Package config loads strava-duel settings in three layers: struct
// defaults, an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"net/netip"
	"time"
)

// Config is the root configuration.
type Config struct {
	Strava   StravaConfig   `koanf:"strava"`
	Duel     DuelConfig     `koanf:"duel"`
	Store    StoreConfig    `koanf:"store"`
	Server   ServerConfig   `koanf:"server"`
	Calendar CalendarConfig `koanf:"calendar"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// StravaConfig holds the OAuth client and API settings.
type StravaConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	TokenURL     string `koanf:"token_url"`
	APIBase      string `koanf:"api_base"`

	// PageSize is the per_page value for activity listing.
	PageSize int `koanf:"page_size"`

	// RefreshMargin: tokens expiring within this window are refreshed.
	RefreshMargin time.Duration `koanf:"refresh_margin"`

	RequestTimeout time.Duration `koanf:"request_timeout"`

	// RateLimit is in requests per second across all Strava calls.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// DuelConfig controls report building.
type DuelConfig struct {
	// Timezone is an IANA name, or "Local".
	Timezone        string        `koanf:"timezone"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	BuildTimeout    time.Duration `koanf:"build_timeout"`
}

// StoreConfig selects the badger directory.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// TrustedProxies lists CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For headers are believed.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// CalendarConfig configures the Google Calendar sync and ICS export.
// Sync is disabled when ID is empty.
type CalendarConfig struct {
	ID string `koanf:"id"`

	// ServiceAccount is the raw service account JSON (for CI/CD).
	ServiceAccount string `koanf:"service_account"`

	// ServiceAccountFile is read when ServiceAccount is empty.
	ServiceAccountFile string        `koanf:"service_account_file"`
	SyncInterval       time.Duration `koanf:"sync_interval"`
	ICSPath            string        `koanf:"ics_path"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Strava: StravaConfig{
			TokenURL:       "https://www.strava.com/oauth/token",
			APIBase:        "https://www.strava.com/api/v3",
			PageSize:       200,
			RefreshMargin:  5 * time.Minute,
			RequestTimeout: 30 * time.Second,
			RateLimit:      1,
			RateBurst:      10,
		},
		Duel: DuelConfig{
			Timezone:        "Local",
			RefreshInterval: 15 * time.Minute,
			CacheTTL:        15 * time.Minute,
			BuildTimeout:    2 * time.Minute,
		},
		Store: StoreConfig{
			Path: "data/badger",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{},
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
			TrustedProxies:  []string{},
		},
		Calendar: CalendarConfig{
			ServiceAccountFile: "service-account.json",
			SyncInterval:       6 * time.Hour,
			ICSPath:            "output/duel.ics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Location resolves Duel.Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Duel.Timezone == "" || c.Duel.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Duel.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid DUEL_TIMEZONE %q: %w", c.Duel.Timezone, err)
	}
	return loc, nil
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// TrustedProxyPrefixes parses Server.TrustedProxies. A bare address is
// treated as a single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.Server.TrustedProxies))
	for _, entry := range c.Server.TrustedProxies {
		if p, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q", entry)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
