package store

import (
	"context"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
)

// SnapshotStore is the durable, synchronous-read snapshot of every entity
// collection. Each collection lives under its own namespaced key; the schema
// version marker lives under a dedicated key in the same namespace.
//
// Load never fails on bad data: a corrupt or unparseable payload is treated
// as an empty collection and logged. Save replaces the whole collection;
// callers compute the new full set. No atomicity is guaranteed across two
// Save calls; the referential repair pass corrects any resulting
// inconsistency on next boot.
type SnapshotStore interface {
	Load(ctx context.Context, name string, out interface{}) error
	Save(ctx context.Context, name string, v interface{}) error

	Version(ctx context.Context) (int, error)
	SetVersion(ctx context.Context, version int) error

	LoadEnvelope(ctx context.Context) (*model.Envelope, error)
	SaveEnvelope(ctx context.Context, env *model.Envelope) error

	// Clear wipes every key in the namespace, marker included. Only the
	// session façade may call it, on logout.
	Clear(ctx context.Context) error

	Close(ctx context.Context) error
}
