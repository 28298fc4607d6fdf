// strava-duel compares two cyclists' year-to-date Strava distance.
//
// It stores both riders' OAuth credentials, pulls their rides for a
// calendar year, and serves an aggregated duel report over HTTP. The same
// rides can be exported as an ICS feed or mirrored into a Google Calendar.
//
// Usage:
//
//	duel [serve]                                   run the API and background services
//	duel report [year]                             print the duel report as JSON
//	duel ics [year]                                write the ICS file to calendar.ics_path
//	duel gcal [year]                               sync rides to calendar.id
//	duel register <id> <name> <refresh> [profile]  store a rider and claim a slot
//	duel status                                    print which slots are filled
//
// Configuration comes from config.yaml and environment variables such as
// STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET, BADGER_PATH and GOOGLE_CALENDAR_ID.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"strava-duel/internal/api"
	"strava-duel/internal/calendar"
	"strava-duel/internal/config"
	"strava-duel/internal/duel"
	"strava-duel/internal/logging"
	"strava-duel/internal/store"
	"strava-duel/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	cmd, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	switch cmd {
	case "serve":
		err = runServe(ctx, a)
	case "report":
		err = runReport(ctx, a, args)
	case "ics":
		err = runICS(ctx, a, args)
	case "gcal":
		err = runGCal(ctx, a, args)
	case "register":
		err = runRegister(ctx, a, args)
	case "status":
		err = runStatus(ctx, a)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Str("command", cmd).Msg("Command failed")
		a.Close()
		os.Exit(1)
	}
}

func runServe(ctx context.Context, a *app) error {
	tree := supervisor.NewSupervisorTree(supervisor.TreeConfig{
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	})

	tree.AddDataService(duel.NewRefresher(a.reports, a.cfg.Duel.RefreshInterval, a.loc))

	gs, err := a.googleSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up Google Calendar: %w", err)
	}
	if gs != nil {
		tree.AddDataService(calendar.NewSyncService(a.reports, gs, a.cfg.Calendar.SyncInterval, a.loc))
	} else {
		logging.Info().Msg("GOOGLE_CALENDAR_ID not set, calendar sync disabled")
	}

	handler, err := a.router()
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(server, a.cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", server.Addr).Str("timezone", a.loc.String()).Msg("Starting strava-duel")
	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("Shutdown complete")
		return nil
	}
	return err
}

// yearArg parses an optional year argument, defaulting to the current year.
func yearArg(a *app, args []string) (int, error) {
	if len(args) == 0 {
		return a.currentYear(), nil
	}
	year, err := strconv.Atoi(args[0])
	if err != nil || year < 2009 || year > 2100 {
		return 0, fmt.Errorf("invalid year %q", args[0])
	}
	return year, nil
}

func runReport(ctx context.Context, a *app, args []string) error {
	year, err := yearArg(a, args)
	if err != nil {
		return err
	}
	report, err := a.reports.Rebuild(ctx, year)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runICS(ctx context.Context, a *app, args []string) error {
	year, err := yearArg(a, args)
	if err != nil {
		return err
	}
	report, err := a.reports.Report(ctx, year)
	if err != nil {
		return err
	}
	events := calendar.EventsFromReport(report)
	if err := calendar.WriteICSFile(a.cfg.Calendar.ICSPath, events, "Ride Duel", time.Now()); err != nil {
		return err
	}
	logging.Info().Int("events", len(events)).Str("path", a.cfg.Calendar.ICSPath).Msg("ICS file written")
	return nil
}

func runGCal(ctx context.Context, a *app, args []string) error {
	year, err := yearArg(a, args)
	if err != nil {
		return err
	}
	gs, err := a.googleSync(ctx)
	if err != nil {
		return err
	}
	if gs == nil {
		return errors.New("GOOGLE_CALENDAR_ID is required for gcal")
	}
	_, err = calendar.SyncYear(ctx, a.reports, gs, year)
	return err
}

// runRegister stores a rider with an already-expired access token so the
// first report build refreshes it.
func runRegister(ctx context.Context, a *app, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: register <athleteID> <name> <refreshToken> [profileURL]")
	}
	cred := &store.Credential{
		AthleteID:    args[0],
		Name:         args[1],
		RefreshToken: args[2],
	}
	if len(args) > 3 {
		cred.Profile = args[3]
	}

	if err := a.store.Put(ctx, cred.AthleteID, cred); err != nil {
		return err
	}
	slot, err := a.store.ClaimSlot(ctx, cred.AthleteID)
	if err != nil {
		if errors.Is(err, store.ErrSlotsFull) {
			logging.Warn().Str("athlete_id", cred.AthleteID).Msg("Both slots are taken, credentials stored without a slot")
		}
		return err
	}
	if err := a.cache.Invalidate(a.currentYear()); err != nil {
		logging.Warn().Err(err).Msg("Failed to invalidate cached report")
	}

	logging.Info().Str("athlete_id", cred.AthleteID).Str("name", cred.Name).Int("slot", slot).Msg("Rider registered")
	return nil
}

func runStatus(ctx context.Context, a *app) error {
	status, err := api.BuildStatus(ctx, a.store)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
