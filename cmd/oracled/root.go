package main

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/driftwoodfi/oracled/internal/config"
)

const version = "v0.3.0"

var configPath string

// Execute runs the oracled CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     "oracled",
		Short:   "Price oracle aggregation service",
		Version: version,
		Long: `oracled aggregates external price feeds into per-asset prices with
staleness tracking, soft-peg thresholds, composite two-hop pricing, and a
guardian freeze/override escape hatch.`,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/oracled.yaml", "Path to config file")

	root.AddCommand(serveCmd())
	root.AddCommand(priceCmd())
	return root.ExecuteContext(ctx)
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, buildLogger(cfg.Log), nil
}

// buildLogger honors the configured level and format; in "auto" format the
// console writer is only used when stderr is a terminal.
func buildLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	console := cfg.Format == "console" ||
		(cfg.Format == "auto" && term.IsTerminal(int(os.Stderr.Fd())))

	var log zerolog.Logger
	if console {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
