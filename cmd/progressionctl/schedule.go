package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type scheduleCmd struct {
	base
	once bool
}

func (*scheduleCmd) Name() string     { return "schedule" }
func (*scheduleCmd) Synopsis() string { return "run periodic rank jobs and serve metrics" }
func (*scheduleCmd) Usage() string {
	return "schedule [-once]:\n  Recompute active season ranks every scheduler.recompute_interval until interrupted.\n"
}
func (c *scheduleCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.once, "once", false, "run the jobs a single time and exit")
}

func (c *scheduleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(ctx context.Context, app *App) error {
		if c.once {
			return recomputeActive(ctx, app)
		}
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serveSchedule(ctx, app)
	})
}

// recomputeActive persists ranks for the active season and logs the weekly leaders.
func recomputeActive(ctx context.Context, app *App) error {
	lb := app.System.Leaderboard
	season, ok, err := lb.ActiveSeason(ctx)
	if err != nil {
		return err
	}
	if ok {
		if _, err := lb.RecomputeSeasonRanks(ctx, season.ID); err != nil {
			return err
		}
	} else {
		app.Logger.Debug("no active season to rank")
	}

	if limit := app.Config.Scheduler.WeeklyLogLimit; limit > 0 {
		top, err := lb.GetWeeklyTop(ctx, min(limit, app.Config.Engine.MaxPageSize))
		if err != nil {
			return err
		}
		for _, row := range top {
			app.Logger.Info("weekly leader", "rank", row.Rank, "user_id", row.UserID, "xp", row.XP)
		}
	}
	return nil
}

func serveSchedule(ctx context.Context, app *App) error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(app.Config.Scheduler.RecomputeInterval),
		gocron.NewTask(func() {
			if err := recomputeActive(ctx, app); err != nil {
				app.Logger.Error("scheduled recompute failed", "error", err)
			}
		}),
		gocron.WithName("recompute-season-ranks"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}
	sched.Start()
	app.Logger.Info("scheduler started",
		"interval", app.Config.Scheduler.RecomputeInterval,
		"storage_adapter", app.Config.Storage.Adapter)

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if app.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(app.Config.Metrics.Path, promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: app.Config.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			app.Logger.Info("metrics listening", "address", srv.Addr, "path", app.Config.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info("shutting down scheduler", "timeout", shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if srv != nil {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		errs = append(errs, sched.Shutdown())
		return errors.Join(errs...)
	})

	err = g.Wait()
	slog.Info("scheduler stopped")
	return err
}
