package config

import (
	"errors"
	"fmt"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateStrava(); err != nil {
		return err
	}
	if err := c.validateDuel(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if c.Store.Path == "" && !c.Store.InMemory {
		return errors.New("BADGER_PATH is required unless BADGER_IN_MEMORY=true")
	}
	return nil
}

func (c *Config) validateStrava() error {
	if c.Strava.ClientID == "" || c.Strava.ClientSecret == "" {
		return errors.New("missing required environment variables: STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET")
	}
	if c.Strava.TokenURL == "" || c.Strava.APIBase == "" {
		return errors.New("strava token_url and api_base must be set")
	}
	if c.Strava.PageSize < 1 || c.Strava.PageSize > 200 {
		return fmt.Errorf("STRAVA_PAGE_SIZE must be between 1 and 200, got %d", c.Strava.PageSize)
	}
	if c.Strava.RefreshMargin < 0 {
		return fmt.Errorf("STRAVA_REFRESH_MARGIN must not be negative, got %v", c.Strava.RefreshMargin)
	}
	if c.Strava.RateLimit <= 0 || c.Strava.RateBurst < 1 {
		return errors.New("STRAVA_RATE_LIMIT must be positive and STRAVA_RATE_BURST at least 1")
	}
	return nil
}

func (c *Config) validateDuel() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Duel.RefreshInterval <= 0 {
		return fmt.Errorf("DUEL_REFRESH_INTERVAL must be positive, got %v", c.Duel.RefreshInterval)
	}
	if c.Duel.CacheTTL <= 0 {
		return fmt.Errorf("DUEL_CACHE_TTL must be positive, got %v", c.Duel.CacheTTL)
	}
	if c.Duel.BuildTimeout <= 0 {
		return fmt.Errorf("DUEL_BUILD_TIMEOUT must be positive, got %v", c.Duel.BuildTimeout)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitReqs < 1 || c.Server.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_REQS and RATE_LIMIT_WINDOW must be positive")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}
