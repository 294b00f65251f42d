package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"eventdigest/internal/app"
	"eventdigest/internal/calendar"
	"eventdigest/internal/config"
	"eventdigest/internal/external"
)

// env carries the process collaborators so commands can be tested without
// touching the real environment or stdout.
type env struct {
	out        io.Writer
	errOut     io.Writer
	loadConfig func() (*config.Config, error)
	// registry is passed through to app.New, e.g. a test transport.
	registry []external.RegistryOption
}

func defaultEnv() *env {
	return &env{
		out:        os.Stdout,
		errOut:     os.Stderr,
		loadConfig: config.LoadConfig,
	}
}

// rootFlags are shared by every sub-command.
type rootFlags struct {
	date    string
	verbose bool
}

func newRootCmd(e *env) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "digestctl",
		Short: "Inspect and send the weekly events digest",
		Long: `digestctl works with the weekly events digest outside the HTTP API:

  - Show the Sunday-to-Saturday window for a date
  - Render the digest HTML without sending it
  - Run the digest, optionally as a dry run that only logs each send

Example:
  digestctl preview --date 2024-03-12 --out digest.html`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.SetErr(e.errOut)
	root.PersistentFlags().StringVar(&flags.date, "date", "", "Reference date in YYYY-MM-DD (default: today in DIGEST_TIMEZONE)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		newWeekCmd(e, flags),
		newPreviewCmd(e, flags),
		newRunCmd(e, flags),
		newVersionCmd(e),
	)
	return root
}

// clock returns the reference instant for --date, or nil for time.Now. The
// date is pinned to noon in loc so it cannot slip across midnight.
func (f *rootFlags) clock(loc *time.Location) (func() time.Time, error) {
	if f.date == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation(calendar.DateKeyLayout, f.date, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid --date %q (use YYYY-MM-DD): %w", f.date, err)
	}
	noon := d.Add(12 * time.Hour)
	return func() time.Time { return noon }, nil
}

// newApp loads configuration and assembles the pipeline. Logs go to stderr
// so stdout carries only command output.
func (e *env) newApp(flags *rootFlags, dryRun bool) (*app.App, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	loc, err := cfg.Digest.Location()
	if err != nil {
		return nil, err
	}
	clock, err := flags.clock(loc)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if flags.verbose {
		level = "debug"
	}
	return app.New(cfg, newLogger(e.errOut, level), app.Options{
		WorkerID: "cli",
		DryRun:   dryRun,
		Clock:    clock,
		Registry: e.registry,
	})
}

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.NewBuildInfo().String())
			return err
		},
	}
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
