package remote

import (
	"context"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
)

// SessionChecker reports whether the backend session is still usable. The
// adapter consults it before every remote call so an expired session degrades
// to local-only writes instead of hammering the backend.
type SessionChecker interface {
	SessionValid(ctx context.Context) bool
}

// Backend is the authoritative CRM API surface consumed by the sync engine.
// Implementations must return apperrors.ErrNotFound for absent records,
// apperrors.ErrAuthExpired for rejected sessions and apperrors.ErrRemote for
// transport failures.
type Backend interface {
	// FindContactByIdentity looks a contact up by its Telegram user id.
	FindContactByIdentity(ctx context.Context, externalUserID int64) (*model.Contact, error)
	CreateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error)
	UpdateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error)
	DeleteContact(ctx context.Context, remoteID int64) error
	ListContacts(ctx context.Context) ([]model.Contact, error)

	UpsertInteraction(ctx context.Context, interaction *model.Interaction) error

	ListOwners(ctx context.Context) ([]model.Owner, error)
	ListConversations(ctx context.Context, ownerID int64) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]model.Message, error)

	SendMessage(ctx context.Context, conversationID int64, text string) error
	SendAttachment(ctx context.Context, conversationID int64, kind, caption string, payload []byte) error
}
