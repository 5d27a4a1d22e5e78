// Package main is the entry point for the Sentinel trading coordination
// core: it loads configuration, wires the dependency graph via
// internal/di, serves the HTTP control surface, and drives the
// orchestrator and gateway until signaled to shut down.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/sentinel-core/internal/config"
	"github.com/aristath/sentinel-core/internal/di"
	"github.com/aristath/sentinel-core/internal/server"
	"github.com/aristath/sentinel-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.Pretty})
	log.Info().Str("data_dir", cfg.DataDir).Str("startup_mode", cfg.StartupMode).Msg("starting sentinel-core")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}

	srv := server.New(server.Config{
		Log:          log,
		Config:       cfg,
		Mode:         container.Mode,
		Orchestrator: container.Orchestrator,
		Positions:    container.Positions,
		Providers:    container.Providers,
		Gateway:      container.Gateway,
		Port:         cfg.Port,
		DevMode:      cfg.LogLevel == "debug",
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := container.StartBackground(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start background tasks")
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("container shutdown error")
	}

	log.Info().Msg("sentinel-core stopped")
}
