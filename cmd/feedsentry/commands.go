package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"FeedSentry/internal/app"
	"FeedSentry/internal/config"
	"FeedSentry/internal/logging"
)

type cliState struct {
	cfgFile string
	verbose bool
	cfg     config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	root := &cobra.Command{
		Use:   "feedsentry",
		Short: "Watch feeds, filter them with an LLM and push notifications",
		Long: `feedsentry polls configured sources, evaluates new content against stream
prompts with an LLM and delivers matches to notification channels.

Example usage:
  feedsentry serve                  # API, queue workers and schedulers
  feedsentry poll                   # one sweep, then exit
  feedsentry digest                 # one digest tick, then exit
  feedsentry migrate                # create the database schema`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return state.init()
		},
	}
	root.PersistentFlags().StringVar(&state.cfgFile, "config", "", "config file (default $FEEDSENTRY_CONFIG)")
	root.PersistentFlags().BoolVarP(&state.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newServeCmd(state),
		newPollCmd(state),
		newDigestCmd(state),
		newMigrateCmd(state),
		newVersionCmd(),
	)
	return root
}

func (s *cliState) init() error {
	cfg, err := config.LoadPath(s.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if s.verbose {
		cfg.Logging.Level = "debug"
	}
	s.cfg = cfg
	s.logger = logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	slog.SetDefault(s.logger)
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withApp builds the application, runs fn and always closes it.
func (s *cliState) withApp(ctx context.Context, fn func(context.Context, *app.Application) error) error {
	application, err := app.New(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			s.logger.Warn("close application", "error", err)
		}
	}()
	return fn(ctx, application)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue workers, poll sweeps and digest ticks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return state.withApp(ctx, func(ctx context.Context, a *app.Application) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newPollCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one polling sweep over stale sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return state.withApp(ctx, func(ctx context.Context, a *app.Application) error {
				report, err := a.PollOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func newDigestCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Evaluate digest schedules once and send what is due",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return state.withApp(ctx, func(ctx context.Context, a *app.Application) error {
				report, err := a.DigestOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func newMigrateCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Migrate(cmd.Context(), state.cfg, state.logger)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedsentry %s\n", version)
		},
	}
}
