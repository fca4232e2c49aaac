package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/apperrors"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

// markerSuffix is the key suffix of the schema-version marker row.
const markerSuffix = "schema_version"

// snapshotRow is one persisted collection payload.
type snapshotRow struct {
	Key       string         `gorm:"column:key;primaryKey;type:text"`
	Payload   datatypes.JSON `gorm:"column:payload;type:json"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the snapshot table name stable across gorm naming changes.
func (snapshotRow) TableName() string {
	return "snapshots"
}

// versionMarker is the payload of the schema-version marker row.
type versionMarker struct {
	Version int `json:"version"`
}

// SQLiteStore implements SnapshotStore on a local SQLite file.
type SQLiteStore struct {
	db        *gorm.DB
	namespace string
}

var _ SnapshotStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the snapshot database at path and ensures
// the snapshot table exists. Use ":memory:" for an ephemeral store in tests.
func NewSQLiteStore(path, namespace string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: store path is required", apperrors.ErrBadRequest)
	}
	if namespace == "" {
		return nil, fmt.Errorf("%w: store namespace is required", apperrors.ErrBadRequest)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open snapshot store at %s: %w", apperrors.ErrStorage, path, err)
	}

	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("%w: failed to migrate snapshot table: %w", apperrors.ErrStorage, err)
	}

	logger.Log.Info("Opened local snapshot store",
		zap.String("path", path),
		zap.String("namespace", namespace),
	)
	return &SQLiteStore{db: db, namespace: namespace}, nil
}

// key builds the namespaced key for a collection.
func (s *SQLiteStore) key(name string) string {
	return s.namespace + ":" + name
}

// Load reads a collection into out. A missing row leaves out untouched; a
// corrupt payload is logged, reset to empty, and never surfaces as an error.
func (s *SQLiteStore) Load(ctx context.Context, name string, out interface{}) error {
	start := utils.Now()
	var row snapshotRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", s.key(name)).Error
	observer.ObserveStoreOperationDuration("load", name, time.Since(start), nil)

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // Empty collection
		}
		return fmt.Errorf("%w: failed to load collection %s: %w", apperrors.ErrStorage, name, err)
	}

	if len(row.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(row.Payload, out); err != nil {
		// Malformed persisted data degrades to empty, never crashes the app.
		logger.FromContext(ctx).Warn("Discarding malformed persisted collection",
			zap.String("collection", name),
			zap.Error(fmt.Errorf("%w: %w", apperrors.ErrMalformedData, err)),
		)
		observer.IncMalformedPayload(name)
		return nil
	}
	return nil
}

// Save replaces the whole collection payload under its key.
func (s *SQLiteStore) Save(ctx context.Context, name string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: failed to encode collection %s: %w", apperrors.ErrStorage, name, err)
	}

	row := snapshotRow{Key: s.key(name), Payload: datatypes.JSON(payload), UpdatedAt: utils.Now()}
	start := utils.Now()
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&row).Error
	observer.ObserveStoreOperationDuration("save", name, time.Since(start), err)

	if err != nil {
		return fmt.Errorf("%w: failed to save collection %s: %w", apperrors.ErrStorage, name, err)
	}

	logger.FromContext(ctx).Debug("Saved collection snapshot",
		zap.String("collection", name),
		zap.String("size", utils.ByteCountSI(len(payload))),
	)
	return nil
}

// Version reads the schema-version marker. A missing or corrupt marker
// implies version 1.
func (s *SQLiteStore) Version(ctx context.Context) (int, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", s.key(markerSuffix)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 1, nil
		}
		return 0, fmt.Errorf("%w: failed to read schema marker: %w", apperrors.ErrStorage, err)
	}

	var marker versionMarker
	if err := json.Unmarshal(row.Payload, &marker); err != nil || marker.Version < 1 {
		logger.FromContext(ctx).Warn("Schema marker unreadable, assuming version 1", zap.Error(err))
		return 1, nil
	}
	return marker.Version, nil
}

// SetVersion advances the schema-version marker.
func (s *SQLiteStore) SetVersion(ctx context.Context, version int) error {
	if version < 1 {
		return fmt.Errorf("%w: schema version must be >= 1, got %d", apperrors.ErrBadRequest, version)
	}
	return s.Save(ctx, markerSuffix, versionMarker{Version: version})
}

// LoadEnvelope assembles the full persisted envelope: the marker plus every
// collection payload in the namespace.
func (s *SQLiteStore) LoadEnvelope(ctx context.Context) (*model.Envelope, error) {
	version, err := s.Version(ctx)
	if err != nil {
		return nil, err
	}

	var rows []snapshotRow
	prefix := s.namespace + ":"
	err = s.db.WithContext(ctx).
		Where("key LIKE ?", prefix+"%").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan namespace %s: %w", apperrors.ErrStorage, s.namespace, err)
	}

	env := model.NewEnvelope(version)
	for _, row := range rows {
		name := strings.TrimPrefix(row.Key, prefix)
		if name == markerSuffix {
			continue
		}
		env.Set(name, json.RawMessage(row.Payload))
	}
	return env, nil
}

// SaveEnvelope replaces the whole namespace with the envelope's collections
// plus the marker, in a single transaction so a migrated envelope lands
// whole. Collections absent from the envelope (dropped by a migration) are
// removed.
func (s *SQLiteStore) SaveEnvelope(ctx context.Context, env *model.Envelope) error {
	start := utils.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key LIKE ?", s.namespace+":%").Delete(&snapshotRow{}).Error; err != nil {
			return err
		}
		for name, raw := range env.Collections {
			row := snapshotRow{Key: s.key(name), Payload: datatypes.JSON(raw), UpdatedAt: utils.Now()}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		marker, err := json.Marshal(versionMarker{Version: env.SchemaVersion})
		if err != nil {
			return err
		}
		row := snapshotRow{Key: s.key(markerSuffix), Payload: datatypes.JSON(marker), UpdatedAt: utils.Now()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
	observer.ObserveStoreOperationDuration("save_envelope", "envelope", time.Since(start), err)

	if err != nil {
		return fmt.Errorf("%w: failed to persist envelope: %w", apperrors.ErrStorage, err)
	}
	return nil
}

// Clear wipes every key in the namespace, marker included.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	start := utils.Now()
	err := s.db.WithContext(ctx).
		Where("key LIKE ?", s.namespace+":%").
		Delete(&snapshotRow{}).Error
	observer.ObserveStoreOperationDuration("clear", "all", time.Since(start), err)

	if err != nil {
		return fmt.Errorf("%w: failed to clear namespace %s: %w", apperrors.ErrStorage, s.namespace, err)
	}
	logger.FromContext(ctx).Info("Cleared local snapshot store", zap.String("namespace", s.namespace))
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}
	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close snapshot store", zap.Error(closeErr))
		return fmt.Errorf("failed to close snapshot store: %w", closeErr)
	}
	logger.FromContext(ctx).Info("Snapshot store closed")
	return nil
}
