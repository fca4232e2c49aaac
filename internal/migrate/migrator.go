package migrate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/store"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
)

// transform upgrades an envelope from one schema version to the next. Each
// transform is pure (input envelope in, output envelope out) and must degrade
// internally on malformed payloads rather than fail the migration.
type transform struct {
	from  int
	to    int
	apply func(m *Migrator, env *model.Envelope) *model.Envelope
}

// transforms is the strictly ordered upgrade chain. A transform runs only when
// the envelope sits exactly at its source version, which makes the chain
// idempotent: re-running Migrate on a current envelope touches nothing.
var transforms = []transform{
	{from: 1, to: 2, apply: (*Migrator).managersToOwners},
	{from: 2, to: 3, apply: (*Migrator).stampConversationOwners},
}

// Migrator upgrades persisted envelopes to the schema version the running
// code expects. It never aborts: malformed legacy payloads degrade to empty
// collections and malformed legacy hints fall back to the canonical owner.
type Migrator struct {
	defaultOwnerName string
}

// NewMigrator creates a Migrator. defaultOwnerName names the canonical owner
// created when a transform needs one and none exists yet.
func NewMigrator(defaultOwnerName string) *Migrator {
	return &Migrator{defaultOwnerName: defaultOwnerName}
}

// Migrate applies the ordered transform chain to a copy of env and returns
// the upgraded envelope. The input envelope is never mutated.
func (m *Migrator) Migrate(env *model.Envelope) *model.Envelope {
	out := env.Clone()
	if out.SchemaVersion < 1 {
		out.SchemaVersion = 1
	}

	for _, t := range transforms {
		if out.SchemaVersion != t.from {
			continue
		}
		logger.Log.Info("Applying schema transform",
			zap.Int("from_version", t.from),
			zap.Int("to_version", t.to))
		out = t.apply(m, out)
		out.SchemaVersion = t.to
		observer.IncMigrationTransform(t.from, nil)
	}
	m.pruneUnknownCollections(out)
	return out
}

// pruneUnknownCollections drops envelope keys that belong to no current
// collection, so stale keys from abandoned schema experiments do not survive
// migrations forever. The legacy managers payload is already consumed by the
// v1 -> v2 transform before this runs.
func (m *Migrator) pruneUnknownCollections(env *model.Envelope) {
	known := make(map[string]struct{})
	for _, name := range model.Collections() {
		known[name] = struct{}{}
	}
	for name := range env.Collections {
		if _, ok := known[name]; ok {
			continue
		}
		logger.Log.Info("Dropping unknown persisted collection",
			zap.String("collection", name))
		env.Delete(name)
	}
}

// Run loads the persisted envelope, migrates it, and persists the result
// (collections plus the advanced marker) before anything else is allowed to
// read the store. A store that is already current is left untouched.
func (m *Migrator) Run(ctx context.Context, snapshots store.SnapshotStore) error {
	version, err := snapshots.Version(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version >= model.CurrentSchemaVersion {
		logger.Log.Debug("Store schema is current, skipping migration",
			zap.Int("version", version))
		return nil
	}

	env, err := snapshots.LoadEnvelope(ctx)
	if err != nil {
		return fmt.Errorf("loading envelope for migration: %w", err)
	}
	env.SchemaVersion = version

	migrated := m.Migrate(env)

	if err := snapshots.SaveEnvelope(ctx, migrated); err != nil {
		return fmt.Errorf("persisting migrated envelope: %w", err)
	}
	logger.Log.Info("Store schema migrated",
		zap.Int("from_version", version),
		zap.Int("to_version", migrated.SchemaVersion))
	return nil
}
