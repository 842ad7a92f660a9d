package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftwoodfi/oracled/internal/app"
	"github.com/driftwoodfi/oracled/internal/oracle"
)

func priceCmd() *cobra.Command {
	var timeoutSecs int

	cmd := &cobra.Command{
		Use:   "price <asset>",
		Short: "Read one asset's price and exit",
		Long:  "Build the configured topology, read a single price through the full aggregation path, and print it. Useful for config smoke tests.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeoutSecs)*time.Second)
			defer cancel()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			asset := oracle.Asset(args[0])
			reading, err := a.Aggregator.GetPriceInfo(ctx, asset)
			if err != nil {
				return fmt.Errorf("read %s: %w", asset, err)
			}

			fmt.Printf("%s %s alive=%v (decimals=%d)\n", asset, reading.Price.Dec(), reading.IsAlive, cfg.Oracle.Decimals)
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 15, "Read timeout in seconds")
	return cmd
}
