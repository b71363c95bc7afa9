package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"magpipeline/internal/app"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin HTTP server and the inbox poller",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, a.Close()) }()

		logger.Info("magpipeline started", zap.Int("port", cfg.Server.Port), zap.Bool("poll", cfg.Poll.Enabled))
		err = a.Run(ctx)
		logger.Info("magpipeline stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides config)")
}
