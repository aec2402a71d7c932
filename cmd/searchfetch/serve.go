package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/search-fetch/internal/server"
)

func newServeCmd(build builder, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the search-fetch HTTP API",
		Long: `serve exposes POST /v1/search and POST /v1/search/summary alongside
/healthz, /readyz and /metrics, and shuts down cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			app, err := build(cmd.Context(), cfg, server.Options{
				Registerer:   prometheus.DefaultRegisterer,
				PerRunPrefix: true,
			})
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			return app.Serve(cmd.Context())
		},
	}
}
