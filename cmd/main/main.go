package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/cache"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/config"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/healthcheck"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/migrate"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/remote"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/store"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/syncworker"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/usecase"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

const (
	guardExpectedReconciled = 100_000
	guardExpectedUnassigned = 10_000
	guardFalsePositiveRate  = 0.01
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize Metrics conditionally
	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Daisi TG CRM Sync",
		zap.String("environment", cfg.Environment),
		zap.String("store_path", cfg.Store.Path),
		zap.String("backend_url", cfg.API.BaseURL),
	)

	// Initialize the snapshot store
	snapshots, err := store.NewSQLiteStore(cfg.Store.Path, cfg.Store.Namespace)
	if err != nil {
		logger.Log.Fatal("Failed to open snapshot store", zap.Error(err))
	}

	// Initialize the backend client and sync adapter
	client, err := remote.NewClient(cfg.API.BaseURL, cfg.API.SessionCookie, cfg.API.RequestTimeout)
	if err != nil {
		logger.Log.Fatal("Failed to create backend client", zap.Error(err))
	}
	adapter := remote.NewSyncAdapter(client, client, snapshots)

	// Per-session reconcile guard cache
	guard := cache.NewReconcileGuard(guardExpectedReconciled, guardExpectedUnassigned, guardFalsePositiveRate)

	// Create the CRM service and run the session-start sequence
	service := usecase.NewCRMService(cfg, snapshots, adapter, guard)

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	startCtx := logger.WithLogger(mainCtx, logger.Log)

	// Optional demo data for fresh installs, written before the session
	// loads so the seeded collections are picked up immediately.
	if cfg.Bootstrap.SeedDemoData {
		if err := migrate.SeedDemoData(startCtx, snapshots, cfg.Bootstrap.OwnerName); err != nil {
			logger.Log.Warn("Demo data seeding skipped", zap.Error(err))
		}
	}

	if err := service.Init(startCtx); err != nil {
		logger.Log.Fatal("Failed to initialize CRM service", zap.Error(err))
	}

	// Create reconcile worker pool
	reconcileWorker, err := usecase.NewReconcileWorker(
		cfg.WorkerPools.Reconcile,
		service,
		guard,
		logger.Log,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize reconcile worker pool", zap.Error(err))
	}

	// Create the pending-sync flusher
	flusher := syncworker.NewWorker(cfg.SyncFlush, service, logger.Log)

	// Create health check server
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)

	// Register metrics handler if enabled BEFORE starting the server
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}
	healthServer.RegisterGuardStatsHandler(guard.GetStats)

	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	// Start the flusher in a separate goroutine
	sigChan := make(chan os.Signal, 1)
	go func() {
		if err := flusher.Start(mainCtx); err != nil {
			logger.Log.Error("Sync flusher failed, initiating shutdown...", zap.Error(err))
			mainCancel()
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}()

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(3)

	// Shutdown reconcile worker pool
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping reconcile worker pool")
		start := time.Now()
		reconcileWorker.Stop()
		logger.Log.Info("[shutdown] Reconcile worker pool stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping reconcile worker pool",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown the pending-sync flusher
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping sync flusher")
		start := time.Now()
		flusher.Stop()
		logger.Log.Info("[shutdown] Sync flusher stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping sync flusher",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown health check server (includes metrics if enabled)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Health check server stop failed", zap.Error(err))
		}
		logger.Log.Info("[shutdown] Health check server stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait for components with a timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("All components stopped cleanly")
	case <-shutdownCtx.Done():
		logger.Log.Warn("Shutdown timed out, forcing exit")
	}

	// Close the store last so every component has flushed its snapshots
	if err := snapshots.Close(context.Background()); err != nil {
		logger.Log.Error("Closing snapshot store failed", zap.Error(err))
	}

	logger.Log.Info("Shutdown complete")
}
