package main

import (
	"fmt"

	"thermowatch/internal/app"
	"thermowatch/internal/config"
	"thermowatch/internal/logging"

	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the readings table and serve the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if port != "" {
				cfg.App.Port = port
			}

			logger := logging.New(cfg, version, appName)
			logger.Info("starting", "env", cfg.App.Env, "table", cfg.Remote.Table)

			a, err := app.New(cmd.Context(), cfg, logger, version)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}
