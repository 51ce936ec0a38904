package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"growiclient/app/internal/app/bootstrap"
	"growiclient/app/internal/config"
	"growiclient/app/internal/explorer"
	applog "growiclient/app/internal/platform/log"
)

// version is replaced at link time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "growi",
		Short:         "Browse and edit Growi wiki pages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "write logs to stderr")

	cmd.AddCommand(
		newServeCommand(),
		newTreeCommand(opts),
		newCatCommand(opts),
		newWriteCommand(opts),
		newNewCommand(opts),
		newOpenCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)

	return cmd
}

// session is a built application plus the process resources behind it.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	app    bootstrap.Result
	flush  func()
}

func (r *session) Close() {
	if err := r.app.Cleanup(); err != nil {
		r.logger.WithError(err).Error("cleaning up application")
	}
	r.flush()
}

func startSession(ctx context.Context, logger *logrus.Logger, scheduler explorer.Scheduler) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, eris.Wrap(err, "failure loading configuration")
	}

	if logger == nil {
		logger, err = applog.NewLogger(cfg.LogLevel)
		if err != nil {
			return nil, eris.Wrap(err, "failure initialising logger")
		}
	}

	hub, flush, err := applog.InitSentry(logger, applog.SentrySettings{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failure initialising sentry")
	}

	result, err := bootstrap.Build(ctx, bootstrap.Dependencies{
		Config:    cfg,
		Logger:    logger,
		SentryHub: hub,
		Scheduler: scheduler,
		Version:   version,
	})
	if err != nil {
		flush()
		return nil, eris.Wrap(err, "failure building application")
	}

	return &session{cfg: cfg, logger: logger, app: result, flush: flush}, nil
}

// commandLogger keeps log lines out of command output unless asked for.
func commandLogger(opts *rootOptions) *logrus.Logger {
	if !opts.verbose {
		return applog.Discard()
	}
	logger, err := applog.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
	}
	return logger
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
