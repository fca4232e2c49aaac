package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/config"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/migrate"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/store"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
)

// Standalone demo seeder: migrates the snapshot store to the current schema
// and, when the store is empty, populates the demo owner, conversations and
// contacts. Safe to re-run; a populated store is left untouched.
func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	storePath := flag.String("store", cfg.Store.Path, "SQLite snapshot store path")
	ownerName := flag.String("owner", cfg.Bootstrap.OwnerName, "Display name for the seeded owner")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.Parse()

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(false)

	snapshots, err := store.NewSQLiteStore(*storePath, cfg.Store.Namespace)
	if err != nil {
		logger.Log.Fatal("Failed to open snapshot store", zap.Error(err))
	}
	defer func() {
		if cerr := snapshots.Close(context.Background()); cerr != nil {
			logger.Log.Error("Closing snapshot store failed", zap.Error(cerr))
		}
	}()

	ctx := logger.WithLogger(context.Background(), logger.Log)

	migrator := migrate.NewMigrator(*ownerName)
	if err := migrator.Run(ctx, snapshots); err != nil {
		logger.Log.Fatal("Schema migration failed", zap.Error(err))
	}

	if err := migrate.SeedDemoData(ctx, snapshots, *ownerName); err != nil {
		logger.Log.Fatal("Seeding demo data failed", zap.Error(err))
	}

	logger.Log.Info("Seeder finished", zap.String("store", *storePath))
}
