package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	os.Exit(int(execute(context.Background(), os.Stdout, os.Args[1:])))
}

// execute parses global flags and runs the named subcommand on a fresh commander.
func execute(ctx context.Context, out io.Writer, args []string) subcommands.ExitStatus {
	opts := &Options{}
	fs := flag.NewFlagSet("progressionctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&opts.ConfigPath, "config", "", "path to a JSON config file")
	fs.StringVar(&opts.Profile, "profile", "", "deployment profile (development, testing, staging, production)")
	if err := fs.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}

	cdr := subcommands.NewCommander(fs, "progressionctl")
	register(cdr, base{opts: opts, out: out})
	return cdr.Execute(ctx)
}

func register(cdr *subcommands.Commander, b base) {
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")
	cdr.Register(cdr.CommandsCommand(), "")

	cdr.Register(&migrateCmd{base: b}, "admin")
	cdr.Register(&grantCmd{base: b}, "admin")
	cdr.Register(&badgesCmd{base: b}, "admin")

	cdr.Register(&seasonStartCmd{base: b}, "seasons")
	cdr.Register(&seasonEndCmd{base: b}, "seasons")
	cdr.Register(&seasonRanksCmd{base: b}, "seasons")

	cdr.Register(&leaderboardCmd{base: b}, "ranking")
	cdr.Register(&weeklyCmd{base: b}, "ranking")

	cdr.Register(&scheduleCmd{base: b}, "daemon")

	cdr.ImportantFlag("config")
}
