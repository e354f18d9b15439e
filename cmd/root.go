// Package cmd implements the agentgate command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

var (
	cfgFile string
	verbose bool

	// logLevel is shared by the handler so hot reload can change it.
	logLevel = new(slog.LevelVar)
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentgate",
		Short:         "Agent orchestration gateway",
		Long:          "agentgate resolves agent recipes, runs them on an agent runtime with a scoped tool set and streams the session as NDJSON events.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $AGENTGATE_CONFIG or ~/.agentgate/config.json)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(execCmd())
	cmd.AddCommand(toolsCmd())
	cmd.AddCommand(recipeCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(doctorCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

// loadConfig loads .env files and the config, then configures logging.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	if err := config.LoadDotEnv(path); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	logLevel.Set(parseLevel(level))
	if verbose {
		logLevel.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
