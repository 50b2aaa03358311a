package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/simulation"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadSimulatorConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, closeStore, err := storage.Open(ctx, cfg.Store.Options())
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	pool := fleet.NewRegistry(gw)
	if err := simulation.SeedFleet(ctx, pool); err != nil {
		logger.Error("seed fleet", "error", err)
		os.Exit(1)
	}

	runner := simulation.NewRunner(pool, matcher.NewService(cfg.Pricing), cfg.ReleaseProbability, cfg.Seed, logger)
	logger.Info("simulation started", "backend", cfg.Store.Backend, "interval", cfg.Interval.String(), "seed", cfg.Seed)
	_ = runner.Run(ctx, cfg.Interval)
	logger.Info("simulation stopped", "rides", len(pool.Rides()))
}
