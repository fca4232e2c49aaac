package remote

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/apperrors"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/store"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

// SyncAdapter translates local mutation intents into idempotent backend
// calls, transparently degrading to the local snapshot store when the backend
// is unreachable or the session is invalid. Only apperrors.ErrAuthExpired
// propagates out of mutating calls; every other remote failure is absorbed
// into a local-pending write.
type SyncAdapter struct {
	backend   Backend
	session   SessionChecker
	snapshots store.SnapshotStore
}

// NewSyncAdapter wires the adapter to its collaborators.
func NewSyncAdapter(backend Backend, session SessionChecker, snapshots store.SnapshotStore) *SyncAdapter {
	return &SyncAdapter{backend: backend, session: session, snapshots: snapshots}
}

// CreateOrUpdateContact mirrors the contact to the backend: lookup by
// external identity, then update or create. On remote failure the contact is
// persisted locally with sync_status=pending; the flusher picks it up later.
func (a *SyncAdapter) CreateOrUpdateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	log := logger.FromContext(ctx)

	if !a.session.SessionValid(ctx) {
		log.Debug("Session invalid, writing contact locally as pending",
			zap.Int64("external_user_id", contact.ExternalUserID))
		return a.fallbackContactWrite(ctx, contact, nil)
	}

	existing, err := a.backend.FindContactByIdentity(ctx, contact.ExternalUserID)
	switch {
	case err == nil:
		contact.RemoteID = existing.RemoteID
		synced, uerr := a.backend.UpdateContact(ctx, contact)
		if uerr != nil {
			return a.fallbackContactWrite(ctx, contact, uerr)
		}
		return a.persistSynced(ctx, synced)
	case apperrors.IsNotFoundError(err):
		created, cerr := a.backend.CreateContact(ctx, contact)
		if cerr != nil {
			return a.fallbackContactWrite(ctx, contact, cerr)
		}
		return a.persistSynced(ctx, created)
	default:
		return a.fallbackContactWrite(ctx, contact, err)
	}
}

// persistSynced stamps the confirmed record and upserts it into the local
// contacts snapshot.
func (a *SyncAdapter) persistSynced(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	contact.SyncStatus = model.SyncStatusSynced
	contact.SyncRetries = 0
	contact.UpdatedAt = utils.Now()
	if err := a.upsertContactSnapshot(ctx, contact); err != nil {
		logger.FromContext(ctx).Error("Synced contact could not be persisted locally",
			zap.String("contact_id", contact.ID), zap.Error(err))
	}
	return contact, nil
}

// fallbackContactWrite persists the contact locally as pending. Auth expiry
// is the only remote error allowed to propagate alongside the local write.
func (a *SyncAdapter) fallbackContactWrite(ctx context.Context, contact *model.Contact, remoteErr error) (*model.Contact, error) {
	log := logger.FromContext(ctx)
	if remoteErr != nil {
		log.Warn("Remote contact write failed, falling back to local store",
			zap.Int64("external_user_id", contact.ExternalUserID),
			zap.Error(remoteErr))
	}
	observer.IncRemoteFallback("contacts")

	contact.SyncStatus = model.SyncStatusPending
	contact.UpdatedAt = utils.Now()
	if err := a.upsertContactSnapshot(ctx, contact); err != nil {
		log.Error("Local fallback write failed",
			zap.String("contact_id", contact.ID), zap.Error(err))
	}

	if remoteErr != nil && apperrors.IsAuthExpiredError(remoteErr) {
		return contact, remoteErr
	}
	return contact, nil
}

// upsertContactSnapshot replaces the record with the same external identity
// (or local id) inside the persisted contacts collection.
func (a *SyncAdapter) upsertContactSnapshot(ctx context.Context, contact *model.Contact) error {
	var contacts []model.Contact
	if err := a.snapshots.Load(ctx, model.CollectionContacts, &contacts); err != nil {
		return err
	}
	replaced := false
	for i := range contacts {
		if contacts[i].ExternalUserID == contact.ExternalUserID || contacts[i].ID == contact.ID {
			contacts[i] = *contact
			replaced = true
			break
		}
	}
	if !replaced {
		contacts = append(contacts, *contact)
	}
	return a.snapshots.Save(ctx, model.CollectionContacts, contacts)
}

// SessionValid reports whether the backend session is currently usable.
func (a *SyncAdapter) SessionValid(ctx context.Context) bool {
	return a.session.SessionValid(ctx)
}

// LoadContacts returns the remote contact collection, persisting it locally
// on success. Any failure degrades silently to the local snapshot. Local
// records still awaiting sync are preserved over their remote counterparts.
func (a *SyncAdapter) LoadContacts(ctx context.Context) []model.Contact {
	var local []model.Contact
	if err := a.snapshots.Load(ctx, model.CollectionContacts, &local); err != nil {
		logger.FromContext(ctx).Error("Loading local contacts snapshot failed", zap.Error(err))
	}

	if !a.session.SessionValid(ctx) {
		observer.IncRemoteFallback("contacts")
		return local
	}

	fetched, err := a.backend.ListContacts(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("Remote contact load failed, serving local snapshot", zap.Error(err))
		observer.IncRemoteFallback("contacts")
		return local
	}

	merged := mergeUnsyncedContacts(fetched, local)
	if err := a.snapshots.Save(ctx, model.CollectionContacts, merged); err != nil {
		logger.FromContext(ctx).Error("Persisting fetched contacts failed", zap.Error(err))
	}
	return merged
}

// mergeUnsyncedContacts overlays local pending/failed records onto the remote
// collection so unflushed optimistic writes survive a reload.
func mergeUnsyncedContacts(fetched, local []model.Contact) []model.Contact {
	byIdentity := make(map[int64]int, len(fetched))
	for i := range fetched {
		byIdentity[fetched[i].ExternalUserID] = i
	}
	for _, lc := range local {
		if lc.SyncStatus == model.SyncStatusSynced || lc.SyncStatus == "" {
			continue
		}
		if idx, ok := byIdentity[lc.ExternalUserID]; ok {
			fetched[idx] = lc
		} else {
			fetched = append(fetched, lc)
		}
	}
	return fetched
}

// LoadOwners returns the remote owner collection with local fallback.
func (a *SyncAdapter) LoadOwners(ctx context.Context) []model.Owner {
	if a.session.SessionValid(ctx) {
		owners, err := a.backend.ListOwners(ctx)
		if err == nil {
			if serr := a.snapshots.Save(ctx, model.CollectionOwners, owners); serr != nil {
				logger.FromContext(ctx).Error("Persisting fetched owners failed", zap.Error(serr))
			}
			return owners
		}
		logger.FromContext(ctx).Warn("Remote owner load failed, serving local snapshot", zap.Error(err))
	}
	observer.IncRemoteFallback("business-accounts")

	var local []model.Owner
	if err := a.snapshots.Load(ctx, model.CollectionOwners, &local); err != nil {
		logger.FromContext(ctx).Error("Loading local owners snapshot failed", zap.Error(err))
	}
	return local
}

// LoadConversations fetches the chats of every given owner and persists the
// merged set. A per-owner failure falls back to the locally persisted chats
// of that owner so a flaky backend never shrinks the collection.
func (a *SyncAdapter) LoadConversations(ctx context.Context, owners []model.Owner) []model.Conversation {
	log := logger.FromContext(ctx)

	var local []model.Conversation
	if err := a.snapshots.Load(ctx, model.CollectionConversations, &local); err != nil {
		log.Error("Loading local conversations snapshot failed", zap.Error(err))
	}
	localByOwner := make(map[int64][]model.Conversation)
	for _, conv := range local {
		localByOwner[conv.OwnerID] = append(localByOwner[conv.OwnerID], conv)
	}

	if !a.session.SessionValid(ctx) {
		observer.IncRemoteFallback("business-accounts")
		return local
	}

	merged := make([]model.Conversation, 0, len(local))
	anyRemote := false
	for _, owner := range owners {
		convs, err := a.backend.ListConversations(ctx, owner.ID)
		if err != nil {
			log.Warn("Remote conversation load failed for owner, using local snapshot",
				zap.Int64("owner_id", owner.ID), zap.Error(err))
			observer.IncRemoteFallback("business-accounts")
			merged = append(merged, localByOwner[owner.ID]...)
			continue
		}
		anyRemote = true
		for i := range convs {
			if convs[i].OwnerID == 0 {
				convs[i].OwnerID = owner.ID
			}
		}
		merged = append(merged, convs...)
	}

	if !anyRemote && len(owners) > 0 {
		return local
	}
	if err := a.snapshots.Save(ctx, model.CollectionConversations, merged); err != nil {
		log.Error("Persisting fetched conversations failed", zap.Error(err))
	}
	return merged
}

// LoadMessages returns one page of a conversation's history. There is no
// local message store; failures degrade to an empty page.
func (a *SyncAdapter) LoadMessages(ctx context.Context, conversationID int64, limit, offset int) []model.Message {
	if !a.session.SessionValid(ctx) {
		return nil
	}
	messages, err := a.backend.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		logger.FromContext(ctx).Warn("Remote message load failed",
			zap.Int64("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	return messages
}

// UpsertInteraction mirrors the (contact, owner) interaction record, with a
// local-collection upsert as fallback.
func (a *SyncAdapter) UpsertInteraction(ctx context.Context, interaction *model.Interaction) error {
	if interaction.ID == "" {
		interaction.ID = uuid.New().String()
	}

	if a.session.SessionValid(ctx) {
		err := a.backend.UpsertInteraction(ctx, interaction)
		if err == nil {
			return a.upsertInteractionSnapshot(ctx, interaction)
		}
		logger.FromContext(ctx).Warn("Remote interaction upsert failed, keeping local record",
			zap.String("contact_id", interaction.ContactID), zap.Error(err))
		if apperrors.IsAuthExpiredError(err) {
			_ = a.upsertInteractionSnapshot(ctx, interaction)
			return err
		}
	}
	observer.IncRemoteFallback("interactions")
	return a.upsertInteractionSnapshot(ctx, interaction)
}

func (a *SyncAdapter) upsertInteractionSnapshot(ctx context.Context, interaction *model.Interaction) error {
	var interactions []model.Interaction
	if err := a.snapshots.Load(ctx, model.CollectionInteractions, &interactions); err != nil {
		return err
	}
	replaced := false
	for i := range interactions {
		if interactions[i].ContactID == interaction.ContactID && interactions[i].OwnerID == interaction.OwnerID {
			interaction.ID = interactions[i].ID
			interaction.CreatedAt = interactions[i].CreatedAt
			interactions[i] = *interaction
			replaced = true
			break
		}
	}
	if !replaced {
		if interaction.CreatedAt.IsZero() {
			interaction.CreatedAt = utils.Now()
		}
		interactions = append(interactions, *interaction)
	}
	return a.snapshots.Save(ctx, model.CollectionInteractions, interactions)
}

// DeleteContact removes the record remotely when possible; the local removal
// is the caller's job since it owns the in-memory collection.
func (a *SyncAdapter) DeleteContact(ctx context.Context, contact *model.Contact) error {
	if contact.RemoteID == 0 || !a.session.SessionValid(ctx) {
		return nil
	}
	if err := a.backend.DeleteContact(ctx, contact.RemoteID); err != nil {
		logger.FromContext(ctx).Warn("Remote contact delete failed, record removed locally only",
			zap.Int64("remote_id", contact.RemoteID), zap.Error(err))
		if apperrors.IsAuthExpiredError(err) {
			return err
		}
	}
	return nil
}

// SendMessage posts an outbound message. Fire-and-forget: the error is
// surfaced for a user notification, nothing is retried or persisted.
func (a *SyncAdapter) SendMessage(ctx context.Context, conversationID int64, text string) error {
	if !a.session.SessionValid(ctx) {
		return apperrors.ErrAuthExpired
	}
	return a.backend.SendMessage(ctx, conversationID, text)
}

// SendAttachment posts an outbound photo or document, fire-and-forget.
func (a *SyncAdapter) SendAttachment(ctx context.Context, conversationID int64, kind, caption string, payload []byte) error {
	if !a.session.SessionValid(ctx) {
		return apperrors.ErrAuthExpired
	}
	return a.backend.SendAttachment(ctx, conversationID, kind, caption, payload)
}
