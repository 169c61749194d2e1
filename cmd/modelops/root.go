package main

import (
	"log/slog"
	"modelops/internal/config"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// app holds state shared by the subcommands.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "modelops",
		Short:         "Artifact lifecycle and promotion service for per-variant models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML pipeline file (overrides PIPELINE_CONFIG)")

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newAnnounceCmd(a),
		newStatusCmd(a),
	)
	return root
}

// load reads the configuration and installs the logger at the configured level.
func (a *app) load() error {
	if a.configPath != "" {
		if err := os.Setenv("PIPELINE_CONFIG", a.configPath); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Service.LogLevel),
	})))
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
