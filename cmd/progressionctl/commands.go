package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/subcommands"

	sqlxAdapter "progressionkit/adapters/sqlx"
	"progressionkit/core"
	"progressionkit/leaderboard"
)

// base carries what every subcommand needs to build the app and print results.
type base struct {
	opts *Options
	out  io.Writer
}

// run builds the app, hands it to fn and releases it afterwards.
func (b base) run(ctx context.Context, fn func(context.Context, *App) error) subcommands.ExitStatus {
	app, cleanup, err := BuildApp(ctx, *b.opts)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return subcommands.ExitFailure
	}
	defer cleanup()
	if err := fn(ctx, app); err != nil {
		app.Logger.Error("command failed", "error", err)
		if errors.Is(err, core.ErrInvalidInput) {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (b base) print(v any) error {
	enc := json.NewEncoder(b.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type migrateCmd struct{ base }

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create the SQL schema" }
func (*migrateCmd) Usage() string {
	return "migrate:\n  Create tables and indexes for the configured SQL driver. Other adapters need no schema.\n"
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(ctx context.Context, app *App) error {
		store, ok := app.Storage.(*sqlxAdapter.Store)
		if !ok {
			app.Logger.Info("adapter has no schema", "adapter", app.Config.Storage.Adapter)
			return nil
		}
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		app.Logger.Info("schema migrated", "driver", app.Config.Storage.SQL.Driver)
		return nil
	})
}

type grantCmd struct {
	base
	user   string
	amount int64
	reason string
}

func (*grantCmd) Name() string     { return "grant" }
func (*grantCmd) Synopsis() string { return "append an admin XP grant or correction" }
func (*grantCmd) Usage() string {
	return "grant -user <id> -amount <n> -reason <text>:\n  Apply a signed admin grant. The user is created if missing.\n"
}

func (c *grantCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id")
	f.Int64Var(&c.amount, "amount", 0, "signed XP amount")
	f.StringVar(&c.reason, "reason", "", "reason recorded on the ledger entry")
}

func (c *grantCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(ctx context.Context, app *App) error {
		if _, err := app.System.Engine.CreateUser(ctx, core.UserID(c.user)); err != nil {
			return err
		}
		award, err := app.System.Engine.AdminGrant(ctx, core.UserID(c.user), c.amount, c.reason)
		if err != nil {
			return err
		}
		return c.print(award)
	})
}

type seasonStartCmd struct {
	base
	name     string
	start    string
	duration time.Duration
}

func (*seasonStartCmd) Name() string     { return "season-start" }
func (*seasonStartCmd) Synopsis() string { return "start a season, ending the current one" }
func (*seasonStartCmd) Usage() string {
	return "season-start -name <name> [-start RFC3339] [-duration 720h]:\n  Activate a new season.\n"
}

func (c *seasonStartCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "season name")
	f.StringVar(&c.start, "start", "", "start time (RFC3339, default now)")
	f.DurationVar(&c.duration, "duration", 30*24*time.Hour, "season length")
}

func (c *seasonStartCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(ctx context.Context, app *App) error {
		start := time.Now().UTC()
		if c.start != "" {
			t, err := time.Parse(time.RFC3339, c.start)
			if err != nil {
				return fmt.Errorf("%w: start: %v", core.ErrInvalidInput, err)
			}
			start = t.UTC()
		}
		season, err := app.System.Leaderboard.StartSeason(ctx, c.name, start, start.Add(c.duration))
		if err != nil {
			return err
		}
		return c.print(season)
	})
}

type seasonEndCmd struct {
	base
	id string
}

func (*seasonEndCmd) Name() string     { return "season-end" }
func (*seasonEndCmd) Synopsis() string { return "end a season" }
func (*seasonEndCmd) Usage() string {
	return "season-end [-id <season>]:\n  Deactivate a season. Defaults to the active one.\n"
}
func (c *seasonEndCmd) SetFlags(f *flag.FlagSet) { f.StringVar(&c.id, "id", "", "season id") }

func (c *seasonEndCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(ctx context.Context, app *App) error {
		id, err := seasonOrActive(ctx, app, c.id)
		if err != nil {
			return err
		}
		return app.System.Leaderboard.EndSeason(ctx, id)
	})
}

type seasonRanksCmd struct {
	base
	id string
}

func (*seasonRanksCmd) Name() string     { return "season-ranks" }
func (*seasonRanksCmd) Synopsis() string { return "recompute and print season ranks" }
func (*seasonRanksCmd) Usage() string {
	return "season-ranks [-id <season>]:\n  Persist ranks for a season. Defaults to the active one.\n"
}
func (c *seasonRanksCmd) SetFlags(f *flag.FlagSet) { f.StringVar(&c.id, "id", "", "season id") }

func (c *seasonRanksCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(ctx context.Context, app *App) error {
		id, err := seasonOrActive(ctx, app, c.id)
		if err != nil {
			return err
		}
		entries, err := app.System.Leaderboard.RecomputeSeasonRanks(ctx, id)
		if err != nil {
			return err
		}
		return c.print(entries)
	})
}

func seasonOrActive(ctx context.Context, app *App, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	season, ok, err := app.System.Leaderboard.ActiveSeason(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: no active season", core.ErrSeasonNotFound)
	}
	return season.ID, nil
}

type leaderboardCmd struct {
	base
	metric string
	page   int
	size   int
	viewer string
}

func (*leaderboardCmd) Name() string     { return "leaderboard" }
func (*leaderboardCmd) Synopsis() string { return "print a global leaderboard page" }
func (*leaderboardCmd) Usage() string {
	return "leaderboard [-metric xp|level|influence] [-page 1] [-size 20] [-viewer <id>]:\n  Print one page of the global ranking.\n"
}

func (c *leaderboardCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.metric, "metric", string(leaderboard.MetricInfluence), "ranking metric")
	f.IntVar(&c.page, "page", 1, "page number, from 1")
	f.IntVar(&c.size, "size", 20, "page size")
	f.StringVar(&c.viewer, "viewer", "", "user whose rank is reported")
}

func (c *leaderboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(ctx context.Context, app *App) error {
		page, err := app.System.Leaderboard.GetLeaderboard(ctx, leaderboard.ParseMetric(c.metric), c.page, c.size, core.UserID(c.viewer))
		if err != nil {
			return err
		}
		return c.print(page)
	})
}

type weeklyCmd struct {
	base
	limit int
}

func (*weeklyCmd) Name() string     { return "weekly" }
func (*weeklyCmd) Synopsis() string { return "print the trailing weekly XP ranking" }
func (*weeklyCmd) Usage() string {
	return "weekly [-limit 10]:\n  Rank users by XP earned in the weekly window.\n"
}
func (c *weeklyCmd) SetFlags(f *flag.FlagSet) { f.IntVar(&c.limit, "limit", 10, "number of rows") }

func (c *weeklyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(ctx context.Context, app *App) error {
		top, err := app.System.Leaderboard.GetWeeklyTop(ctx, c.limit)
		if err != nil {
			return err
		}
		return c.print(top)
	})
}

type badgesCmd struct {
	base
	user string
}

func (*badgesCmd) Name() string     { return "badges" }
func (*badgesCmd) Synopsis() string { return "evaluate automatic badges and list a user's badges" }
func (*badgesCmd) Usage() string {
	return "badges -user <id>:\n  Grant newly earned automatic badges, then print all held badges.\n"
}
func (c *badgesCmd) SetFlags(f *flag.FlagSet) { f.StringVar(&c.user, "user", "", "user id") }

func (c *badgesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, func(ctx context.Context, app *App) error {
		granted, err := app.System.Engine.EvaluateAutomaticBadges(ctx, core.UserID(c.user))
		if err != nil {
			return err
		}
		if len(granted) > 0 {
			app.Logger.Info("badges granted", "user_id", c.user, "badges", granted)
		}
		held, err := app.System.Engine.ListBadges(ctx, core.UserID(c.user))
		if err != nil {
			return err
		}
		return c.print(held)
	})
}
