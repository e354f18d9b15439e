package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	httpapi "github.com/nextlevelbuilder/agentgate/internal/http"
)

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Gateway.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Gateway.Port = port
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides gateway.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides gateway.port)")
	return cmd
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, err := buildGateway(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer g.Close()

	limiter := httpapi.NewRateLimiter(cfg.Gateway.RateLimitRPM, 0)
	defer limiter.Close()

	opts := httpapi.Options{
		Executor:       g.executor,
		Registry:       g.registry,
		MCP:            g.mcp,
		Token:          cfg.Gateway.Token,
		RateLimiter:    limiter,
		MaxBodyBytes:   cfg.Gateway.MaxBodyBytes,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		Readiness:      g.readiness(),
		Version:        Version,
	}
	if g.metrics != nil {
		opts.Metrics = g.metrics.Handler()
	}

	stopWatchers := startWatchers(cfg, g, limiter)
	defer stopWatchers()

	slog.Info("gateway.starting", "addr", cfg.Gateway.Addr(), "version", Version,
		"runtime", cfg.Engine.Runtime, "recipes", cfg.Recipes.Source, "tools", g.registry.Names(),
		"auth", cfg.Gateway.Token != "")
	return httpapi.NewServer(opts).ListenAndServe(ctx, cfg.Gateway.Addr(), 10*time.Second)
}

// startWatchers hot-reloads the config file (log level, rate limits,
// default model) and the recipes file.
func startWatchers(cfg *config.Config, g *gateway, limiter *httpapi.RateLimiter) func() {
	var stops []func()

	if path := resolveConfigPath(); fileExists(path) {
		w, err := config.NewWatcher(path)
		if err == nil {
			w.OnChange(func(next *config.Config) {
				logLevel.Set(parseLevel(next.LogLevel))
				if verbose {
					logLevel.Set(slog.LevelDebug)
				}
				limiter.SetRate(next.Gateway.RateLimitRPM, 0)
				if next.Engine.DefaultModel != "" {
					g.router.SetDefaultModel(next.Engine.DefaultModel)
				}
				slog.Info("config.applied", "log_level", next.LogLevel,
					"rate_limit_rpm", next.Gateway.RateLimitRPM, "default_model", g.router.DefaultModel())
			})
			if err = w.Start(); err != nil {
				w.Stop()
			} else {
				stops = append(stops, w.Stop)
			}
		}
		if err != nil {
			slog.Warn("config.watch_failed", "path", path, "error", err)
		}
	}

	if g.fileRecipes != nil {
		w, err := config.WatchFile(g.fileRecipes.Path(), func() {
			if err := g.fileRecipes.Reload(); err != nil {
				slog.Error("recipes.reload_failed", "error", err)
			}
		})
		if err != nil {
			slog.Warn("recipes.watch_failed", "path", g.fileRecipes.Path(), "error", err)
		} else {
			stops = append(stops, w.Stop)
		}
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
