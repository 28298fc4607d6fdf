package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"strava-duel/internal/api"
	"strava-duel/internal/calendar"
	"strava-duel/internal/config"
	"strava-duel/internal/duel"
	"strava-duel/internal/logging"
	"strava-duel/internal/store"
	"strava-duel/internal/strava"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     *config.Config
	loc     *time.Location
	store   *store.BadgerStore
	client  *strava.Client
	cache   *duel.Cache
	reports *duel.Service
}

func newApp(cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := store.OpenBadger(cfg.Store.Path, cfg.Store.InMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client := strava.NewClient(strava.Config{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		TokenURL:     cfg.Strava.TokenURL,
		APIBase:      cfg.Strava.APIBase,
		PageSize:     cfg.Strava.PageSize,
		Location:     loc,
		RateLimit:    cfg.Strava.RateLimit,
		RateBurst:    cfg.Strava.RateBurst,
		HTTPClient:   &http.Client{Timeout: cfg.Strava.RequestTimeout},
	})

	tokens := strava.NewTokenRefresher(st, client).WithMargin(cfg.Strava.RefreshMargin)
	builder := duel.NewBuilder(st, tokens, client, loc)
	cache := duel.NewCache(st.DB(), cfg.Duel.CacheTTL)

	return &app{
		cfg:     cfg,
		loc:     loc,
		store:   st,
		client:  client,
		cache:   cache,
		reports: duel.NewService(builder, cache, cfg.Duel.BuildTimeout),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close store")
	}
}

func (a *app) currentYear() int {
	return time.Now().In(a.loc).Year()
}

func (a *app) router() (http.Handler, error) {
	proxies, err := a.cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	mwConfig := api.DefaultMiddlewareConfig()
	mwConfig.TrustedProxies = proxies
	mwConfig.CORSAllowedOrigins = a.cfg.Server.CORSOrigins
	mwConfig.RateLimitRequests = a.cfg.Server.RateLimitReqs
	mwConfig.RateLimitWindow = a.cfg.Server.RateLimitWindow

	h := api.NewHandler(a.reports, a.store, a.loc)
	return api.NewRouter(h, api.NewMiddleware(mwConfig)), nil
}

// googleSync returns nil when no calendar is configured.
func (a *app) googleSync(ctx context.Context) (*calendar.GoogleSync, error) {
	if a.cfg.Calendar.ID == "" {
		return nil, nil
	}
	key, err := calendar.LoadServiceAccountKey(a.cfg.Calendar.ServiceAccount, a.cfg.Calendar.ServiceAccountFile)
	if err != nil {
		return nil, err
	}
	srv, err := calendar.NewGoogleService(ctx, key)
	if err != nil {
		return nil, err
	}
	return calendar.NewGoogleSync(srv, a.cfg.Calendar.ID), nil
}
