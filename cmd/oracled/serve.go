package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftwoodfi/oracled/internal/app"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the oracle HTTP service",
		Long:  "Build the configured price topology and serve the read, admin, metrics, and stream endpoints until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			bootCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			a, err := app.New(bootCtx, cfg, log)
			cancel()
			if err != nil {
				return err
			}

			log.Info().
				Str("version", version).
				Int("adapters", len(a.Adapters)).
				Int("composites", len(a.Composites)).
				Msg("oracled starting")
			return a.Run(cmd.Context())
		},
	}
}
