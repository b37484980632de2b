package main

import (
	"fmt"
	"os"
	"path/filepath"

	"thermowatch/internal/app"
	"thermowatch/internal/config"
	"thermowatch/internal/logging"
	"thermowatch/internal/service"

	"github.com/spf13/cobra"
)

func newExportCommand() *cobra.Command {
	var req service.ExportRequest
	var outDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch the readings of a day range and write a report",
		Example: `  thermowatch export --start 2024-05-01 --end 2024-05-02
  thermowatch export --start 2024-05-01 --end 2024-05-01 --format xlsx --out ./reports`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			// one-shot: no archive, cache or publishing
			cfg.DB.Enabled = false
			cfg.Redis.Enabled = false
			cfg.Publisher.Backend = "none"

			logger := logging.New(cfg, version, appName)
			a, err := app.New(cmd.Context(), cfg, logger, version)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Export(cmd.Context(), req)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			path := filepath.Join(outDir, report.Filename)
			if err := os.WriteFile(path, report.Data, 0o644); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d rows)\n", path, report.Rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Start, "start", "", "first day of the report (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.End, "end", "", "last day of the report (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.Format, "format", "pdf", "report format: pdf, xlsx or csv")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}
