// Package cmd defines and implements the CLI commands for the serp-archiver
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-archiver/internal/app"
	"github.com/JakeFAU/serp-archiver/internal/archive"
	"github.com/JakeFAU/serp-archiver/internal/config"
	"github.com/JakeFAU/serp-archiver/internal/logging"
)

// sessionKeyType is the key for storing loaded settings in the context.
type sessionKeyType string

const sessionKey sessionKeyType = "session"

// session is what every subcommand needs before it builds anything.
type session struct {
	cfg    config.Config
	logger *zap.Logger
}

// Archiver is the application surface the commands drive. It lets tests
// inject a fake in place of the real service graph.
type Archiver interface {
	Run(ctx context.Context, keyword string) (archive.RunSummary, error)
	Serve(ctx context.Context) error
	CaptureConcurrency() int
	Close()
}

// newArchiver is the application factory. It's a variable so tests can
// replace it.
var newArchiver = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Archiver, error) {
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "serp-archiver",
		Short: "Archives search results for a keyword with metadata and screenshots.",
		Long: `serp-archiver searches for a keyword, skips results from domains it has
already archived, fetches each page's social metadata, captures a full
browser screenshot and writes a numbered JSON report.`,
		SilenceUsage: true,

		// Runs before every subcommand: configuration and logging are shared.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.NewWithOptions(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, &session{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(sessionKey).(*session); ok && rt != nil {
				_ = rt.logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env ARCHIVER_* overrides)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStateCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveSession(ctx context.Context) (*session, error) {
	rt, ok := ctx.Value(sessionKey).(*session)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
