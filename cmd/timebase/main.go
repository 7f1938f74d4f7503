package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/timebase-io/timebase/internal/cagg"
	caggapi "github.com/timebase-io/timebase/internal/cagg/api"
	"github.com/timebase-io/timebase/internal/catalog"
	corecfg "github.com/timebase-io/timebase/internal/core/config"
	"github.com/timebase-io/timebase/internal/core/storage/postgres"
	"github.com/timebase-io/timebase/internal/migrations"
	"github.com/timebase-io/timebase/internal/refresh"
	"github.com/timebase-io/timebase/internal/server"
)

func main() {
	configPath := flag.String("config", "timebase.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	tickInterval, err := cfg.Refresh.ParsedTickInterval()
	if err != nil {
		slog.Error("Invalid refresh tick interval", "value", cfg.Refresh.TickInterval, "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.InternalRole,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	if err := dbAdapter.ValidateSchema(); err != nil {
		slog.Error("Catalog schema validation failed - did you run migrations?", "error", err)
		os.Exit(1)
	}

	// 3. Initialize the function catalog
	registry := catalog.NewBuiltin()
	if err := registry.LoadAggregateDefs(cfg.Catalog.DefsDir); err != nil {
		slog.Error("Failed to load aggregate definitions", "dir", cfg.Catalog.DefsDir, "error", err)
		os.Exit(1)
	}

	// 4. Initialize the compiler and creation flow
	compiler := cagg.NewCompiler(registry, logger)
	creator := cagg.NewCreator(dbAdapter.DB(), compiler, dbAdapter, dbAdapter, logger)

	// 5. Initialize the refresh scheduler
	scheduler := refresh.NewScheduler(tickInterval, cfg.Refresh.WorkerCount, dbAdapter)
	slog.Info("Refresh scheduler initialized",
		"interval", tickInterval,
		"enabled", cfg.Refresh.Enabled,
		"worker_count", cfg.Refresh.WorkerCount,
	)

	// 6. Initialize Server
	// Statement resolution is frontend work; no resolver ships in this
	// binary, so the statement-bearing endpoints report 501 until one is
	// wired in.
	handler := caggapi.NewHandler(nil, compiler, creator, dbAdapter)
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	handler.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Refresh.Enabled {
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Refresh scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Refresh scheduler disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
