package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP control
// server until SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			cfg := sess.cfg
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			archiver, err := newArchiver(cmd.Context(), cfg, sess.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer archiver.Close()

			sess.logger.Info("serving", zap.Int("port", cfg.Server.Port))
			if err := archiver.Serve(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
