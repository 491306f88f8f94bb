package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/netpulse/netpulse/internal/adapters/duckdb"
	"github.com/netpulse/netpulse/internal/adapters/natsbus"
	"github.com/netpulse/netpulse/internal/config"
	"github.com/netpulse/netpulse/internal/core/services"
	"github.com/netpulse/netpulse/pkg/anchorapi"
)

func main() {
	cfg := config.AnchorFromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	logger.Info("starting netpulse anchor")

	if err := run(logger, cfg); err != nil {
		logger.Error("anchor startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg config.Anchor) error {
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

	// Initialize Adapters
	bus, err := natsbus.Connect(cfg.BusURL, logger)
	if err != nil {
		return fmt.Errorf("failed to connect bus: %w", err)
	}
	defer bus.Close()

	store, err := duckdb.Open(logger, duckdb.StoreOptions{
		Path:      cfg.DBPath,
		Cap:       cfg.StoreCap,
		ExportDir: cfg.ExportDir,
	})
	if err != nil {
		return fmt.Errorf("failed to open measurement store: %w", err)
	}
	defer store.Close()

	// Initialize Core Services
	events := services.NewEventBus(logger)
	table := services.NewJobTable()
	dispatcher := services.NewDispatcher(logger, bus, table)
	correlator := services.NewCorrelator(logger, bus, table, store, events)
	registry := services.NewWorkerRegistry(logger, bus, events, cfg.LivenessWindow, cfg.SweepInterval)
	schedules := services.NewScheduleRunner(logger, dispatcher)

	// Initialize Anchor API Server
	apiServer := anchorapi.NewServer(logger, dispatcher, store, table, registry, schedules, events, bus)

	// CORS Configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: c.Handler(apiServer.Handler()),
	}

	// Application Loop
	g, gCtx := errgroup.WithContext(ctx)

	// 1. Result Correlator (wildcard result subscription)
	g.Go(func() error {
		return correlator.Run(gCtx)
	})

	// 2. Worker Registry (announcements + liveness sweep)
	g.Go(func() error {
		return registry.Run(gCtx)
	})

	// 3. Schedule Runner (recurring measurements)
	g.Go(func() error {
		return schedules.Run(gCtx)
	})

	// 4. API Server
	g.Go(func() error {
		logger.Info("starting anchor api server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	// 5. Graceful Shutdown for API Server
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
