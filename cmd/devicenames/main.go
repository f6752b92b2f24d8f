package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lcalzada-xor/devicenames/internal/app"
	"github.com/lcalzada-xor/devicenames/internal/config"
	"github.com/lcalzada-xor/devicenames/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	// Setup Structured Logging
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	// Lookups print to stdout, so logs go to stderr in CLI mode
	out := os.Stdout
	if len(cfg.Args) > 0 {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer(cfg.Tracing, app.Version)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slog.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(cfg.Args) > 0 {
		if err := application.ResolveAll(ctx, os.Stdout, cfg.Args, cfg.Sync); err != nil {
			slog.Error("Lookup failed", "error", err)
		}
		return
	}

	slog.Info("devicenames starting", "version", app.Version, "url", cfg.URL, "store", cfg.Store)
	if err := application.Run(ctx); err != nil {
		slog.Error("Application error", "error", err)
	}
}
