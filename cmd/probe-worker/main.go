package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netpulse/netpulse/internal/adapters/natsbus"
	"github.com/netpulse/netpulse/internal/config"
	"github.com/netpulse/netpulse/internal/core/domain"
	"github.com/netpulse/netpulse/internal/probes"
	"github.com/netpulse/netpulse/internal/worker"
)

func main() {
	cfg := config.WorkerFromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	kind, err := domain.ParseProbeKind(cfg.Kind)
	if err != nil {
		logger.Error("invalid worker kind", "kind", cfg.Kind, "error", err)
		os.Exit(1)
	}
	logger.Info("starting netpulse probe worker", "kind", kind)

	if err := run(logger, cfg, kind); err != nil {
		logger.Error("probe worker stopped", "error", err)
		os.Exit(1)
	}
}

// run keeps the worker alive across bus outages: a lost connection ends
// one session and the next attempt starts after ConnectRetry. Only
// signal-driven cancellation exits the loop.
func run(logger *slog.Logger, cfg config.Worker, kind domain.ProbeKind) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	for {
		if err := runOnce(ctx, logger, cfg, kind); err != nil {
			logger.Warn("worker session ended", "error", err, "retry_in", cfg.ConnectRetry)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.ConnectRetry):
		}
	}
}

func runOnce(ctx context.Context, logger *slog.Logger, cfg config.Worker, kind domain.ProbeKind) error {
	bus, err := natsbus.Connect(cfg.BusURL, logger)
	if err != nil {
		return fmt.Errorf("failed to connect bus: %w", err)
	}
	defer bus.Close()

	prober, err := probes.New(kind, probes.Options{
		Timeout:   cfg.ProbeTimeout,
		PingCount: cfg.PingCount,
	})
	if err != nil {
		return fmt.Errorf("failed to build prober: %w", err)
	}

	w := worker.New(logger, bus, prober, worker.Config{
		Name:             cfg.Name,
		Version:          cfg.Version,
		Capabilities:     cfg.Capabilities,
		AnnounceInterval: cfg.AnnounceInterval,
	})

	logger.Info("worker session started", "name", w.Name(), "kind", kind)
	return w.Run(ctx)
}
