package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/catalog/internal/config"
	"github.com/syntrixbase/catalog/internal/logging"
	"github.com/syntrixbase/catalog/internal/services"
)

func main() {
	// 0. Parse Command Line Flags
	configDir := flag.String("config-dir", "config", "Directory holding config.yml and config.local.yml")
	metricsAddr := flag.String("metrics-addr", "", "Override metrics.addr; \"off\" disables the endpoint")
	noStats := flag.Bool("no-stats", false, "Do not run the stream stats aggregator")
	noPurge := flag.Bool("no-purge", false, "Do not run the tombstone purger")
	noCache := flag.Bool("no-cache", false, "Do not run the file cache")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	switch *metricsAddr {
	case "":
	case "off":
		cfg.Metrics.Addr = ""
	default:
		cfg.Metrics.Addr = *metricsAddr
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Shutdown()

	// 2. Initialize Service Manager
	opts := services.Options{
		RunStatsAggregator: !*noStats,
		RunTombstonePurger: !*noPurge,
		RunFileCache:       !*noCache,
	}
	mgr := services.NewManager(cfg, opts, slog.Default())

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Init(initCtx); err != nil {
		slog.Error("Failed to initialize catalog", "error", err)
		_ = mgr.Shutdown(context.Background())
		os.Exit(1)
	}

	// 3. Start Services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if err := mgr.Start(bgCtx); err != nil {
		slog.Error("Failed to start catalog", "error", err)
		bgCancel()
		_ = mgr.Shutdown(context.Background())
		os.Exit(1)
	}

	// 4. Wait for Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("Shutting down catalog", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = mgr.Shutdown(shutdownCtx)
	slog.Info("Catalog stopped")
}
