package model

import (
	"encoding/json"
	"time"
)

// CurrentSchemaVersion is the envelope version the running code expects.
// A missing marker implies version 1.
const CurrentSchemaVersion = 3

// Persisted collection names. Each is stored under its own namespaced key in
// the local snapshot store.
const (
	CollectionContacts      = "contacts"
	CollectionConversations = "chats"
	CollectionOwners        = "owners"
	// CollectionLegacyManagers is the pre-v2 name of the owners collection.
	CollectionLegacyManagers = "managers"
	CollectionTransfers      = "transfers"
	CollectionKeywords       = "keywords"
	CollectionInteractions   = "interactions"
	CollectionSyncFailures   = "sync_failures"
	CollectionChatMembers    = "chat_members"
	CollectionAPIConfig      = "api_config"
)

// Collections returns the set of current (post-migration) collection names.
func Collections() []string {
	return []string{
		CollectionContacts,
		CollectionConversations,
		CollectionOwners,
		CollectionTransfers,
		CollectionKeywords,
		CollectionInteractions,
		CollectionSyncFailures,
		CollectionChatMembers,
		CollectionAPIConfig,
	}
}

// APIConfig is the persisted backend connection settings. They survive a
// restart so the client keeps talking to the backend the session was
// established against even when the static config changes underneath.
type APIConfig struct {
	BaseURL        string        `json:"base_url" validate:"required"`
	RequestTimeout time.Duration `json:"request_timeout,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at,omitempty"`
}

// Envelope is the versioned container the schema migrator operates on: the
// schema-version marker plus every persisted collection as an opaque payload.
type Envelope struct {
	SchemaVersion int                        `json:"schema_version"`
	Collections   map[string]json.RawMessage `json:"collections"`
}

// NewEnvelope creates an empty envelope at the given version.
func NewEnvelope(version int) *Envelope {
	return &Envelope{
		SchemaVersion: version,
		Collections:   make(map[string]json.RawMessage),
	}
}

// Get returns the raw payload of a collection, or nil when absent.
func (e *Envelope) Get(name string) json.RawMessage {
	if e.Collections == nil {
		return nil
	}
	return e.Collections[name]
}

// Set stores the raw payload of a collection.
func (e *Envelope) Set(name string, raw json.RawMessage) {
	if e.Collections == nil {
		e.Collections = make(map[string]json.RawMessage)
	}
	e.Collections[name] = raw
}

// Delete removes a collection from the envelope.
func (e *Envelope) Delete(name string) {
	delete(e.Collections, name)
}

// Clone returns a deep copy of the envelope. Transforms operate on copies so
// a failed transform never leaves a half-rewritten input behind.
func (e *Envelope) Clone() *Envelope {
	out := NewEnvelope(e.SchemaVersion)
	for name, raw := range e.Collections {
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		out.Collections[name] = cp
	}
	return out
}

// SyncFailure records a contact mutation that exhausted its remote retry
// budget. Kept in its own collection for operator inspection.
type SyncFailure struct {
	ID             string    `json:"id"`
	ContactID      string    `json:"contact_id"`
	ExternalUserID int64     `json:"external_user_id"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error"`
	FailedAt       time.Time `json:"failed_at"`
}
