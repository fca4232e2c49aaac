package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/apperrors"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/cache"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/config"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/migrate"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/remote"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/store"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/validator"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

// State is the session lifecycle position of the façade.
type State int32

const (
	StateUninitialized State = iota
	StateMigrating
	StateLoading
	StateReady
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMigrating:
		return "migrating"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// CRMService is the single composition point exposing every entity
// collection and mutator. All writes route through the reconciler, the
// repairer and the sync adapter; nothing else touches the collections.
type CRMService struct {
	cfg       *config.Config
	snapshots store.SnapshotStore
	adapter   *remote.SyncAdapter
	guard     *cache.ReconcileGuard
	migrator  *migrate.Migrator

	state atomic.Int32

	mu            sync.RWMutex
	contacts      []model.Contact
	conversations []model.Conversation
	owners        []model.Owner
	transfers     []model.TransferRecord
	keywords      model.KeywordSet
	interactions  []model.Interaction
	chatMembers   []model.ChatMember
	apiConfig     model.APIConfig

	selectedConversation atomic.Int64
	loadGeneration       atomic.Int64
}

// NewCRMService wires the façade to its collaborators.
func NewCRMService(cfg *config.Config, snapshots store.SnapshotStore, adapter *remote.SyncAdapter, guard *cache.ReconcileGuard) *CRMService {
	return &CRMService{
		cfg:       cfg,
		snapshots: snapshots,
		adapter:   adapter,
		guard:     guard,
		migrator:  migrate.NewMigrator(cfg.Bootstrap.OwnerName),
	}
}

// State returns the current lifecycle state.
func (s *CRMService) State() State {
	return State(s.state.Load())
}

func (s *CRMService) setState(st State) {
	s.state.Store(int32(st))
}

func (s *CRMService) requireReady() error {
	if st := s.State(); st != StateReady {
		return fmt.Errorf("%w: service is %s, not ready", apperrors.ErrBadRequest, st)
	}
	return nil
}

// reconcileOptions derives the reconciler settings from config.
func (s *CRMService) reconcileOptions() ReconcileOptions {
	return ReconcileOptions{
		PlaceholderName: s.cfg.Contacts.PlaceholderName,
		HistoryLimit:    s.cfg.Contacts.UsernameHistorySize,
	}
}

// Init runs the session-start sequence: migrate the persisted envelope, load
// every collection (remote first, local fallback), then run one repair pass.
func (s *CRMService) Init(ctx context.Context) error {
	st := s.State()
	if st != StateUninitialized && st != StateCleared {
		return fmt.Errorf("%w: init from state %s", apperrors.ErrBadRequest, st)
	}
	log := logger.FromContext(ctx)

	s.setState(StateMigrating)
	if err := s.migrator.Run(ctx, s.snapshots); err != nil {
		s.setState(StateUninitialized)
		return fmt.Errorf("schema migration failed: %w", err)
	}

	s.setState(StateLoading)
	owners := s.adapter.LoadOwners(ctx)
	conversations := s.adapter.LoadConversations(ctx, owners)
	contacts := s.adapter.LoadContacts(ctx)

	var transfers []model.TransferRecord
	if err := s.snapshots.Load(ctx, model.CollectionTransfers, &transfers); err != nil {
		log.Error("Loading transfers snapshot failed", zap.Error(err))
	}
	var keywords model.KeywordSet
	if err := s.snapshots.Load(ctx, model.CollectionKeywords, &keywords); err != nil {
		log.Error("Loading keywords snapshot failed", zap.Error(err))
	}
	var interactions []model.Interaction
	if err := s.snapshots.Load(ctx, model.CollectionInteractions, &interactions); err != nil {
		log.Error("Loading interactions snapshot failed", zap.Error(err))
	}
	var members []model.ChatMember
	if err := s.snapshots.Load(ctx, model.CollectionChatMembers, &members); err != nil {
		log.Error("Loading chat members snapshot failed", zap.Error(err))
	}
	var apiCfg model.APIConfig
	if err := s.snapshots.Load(ctx, model.CollectionAPIConfig, &apiCfg); err != nil {
		log.Error("Loading api config snapshot failed", zap.Error(err))
	}

	s.mu.Lock()
	s.owners = owners
	s.conversations = conversations
	s.contacts = contacts
	s.transfers = transfers
	s.keywords = keywords
	s.interactions = interactions
	s.chatMembers = members
	s.apiConfig = apiCfg
	if s.apiConfig.BaseURL == "" {
		// First session against this store: pin the static config.
		s.apiConfig = model.APIConfig{
			BaseURL:        s.cfg.API.BaseURL,
			RequestTimeout: s.cfg.API.RequestTimeout,
			UpdatedAt:      utils.Now(),
		}
		s.persistAPIConfigLocked(ctx)
	}
	s.repairLocked(ctx)
	s.mu.Unlock()

	s.setState(StateReady)
	log.Info("CRM service ready",
		zap.Int("owners", len(owners)),
		zap.Int("conversations", len(conversations)),
		zap.Int("contacts", len(contacts)))
	return nil
}

// Logout wipes the persisted namespace and the in-memory collections. This
// is the only wholesale wipe in the system.
func (s *CRMService) Logout(ctx context.Context) error {
	s.setState(StateCleared)
	err := s.snapshots.Clear(ctx)

	s.mu.Lock()
	s.contacts = nil
	s.conversations = nil
	s.owners = nil
	s.transfers = nil
	s.keywords = nil
	s.interactions = nil
	s.chatMembers = nil
	s.apiConfig = model.APIConfig{}
	s.mu.Unlock()
	s.selectedConversation.Store(0)
	s.loadGeneration.Add(1)

	s.setState(StateUninitialized)
	if err != nil {
		return fmt.Errorf("clearing store on logout: %w", err)
	}
	logger.FromContext(ctx).Info("Session cleared")
	return nil
}

// --- Collection accessors ---

// Contacts returns a copy of the current contact collection.
func (s *CRMService) Contacts() []model.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Contact, len(s.contacts))
	copy(out, s.contacts)
	return out
}

// Conversations returns a copy of the current conversation collection.
func (s *CRMService) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// Owners returns a copy of the current owner collection.
func (s *CRMService) Owners() []model.Owner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Owner, len(s.owners))
	copy(out, s.owners)
	return out
}

// Transfers returns a copy of the current transfer records.
func (s *CRMService) Transfers() []model.TransferRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TransferRecord, len(s.transfers))
	copy(out, s.transfers)
	return out
}

// Keywords returns a copy of the keyword set.
func (s *CRMService) Keywords() model.KeywordSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(model.KeywordSet, len(s.keywords))
	copy(out, s.keywords)
	return out
}

// Interactions returns a copy of the interaction records.
func (s *CRMService) Interactions() []model.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Interaction, len(s.interactions))
	copy(out, s.interactions)
	return out
}

// ChatMembers returns a copy of the observed participants of one conversation.
func (s *CRMService) ChatMembers(chatID int64) []model.ChatMember {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ChatMember
	for _, m := range s.chatMembers {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// APIConfig returns the persisted backend connection settings.
func (s *CRMService) APIConfig() model.APIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiConfig
}

// UpdateAPIConfig validates and persists new backend connection settings.
// They take effect on the next session start.
func (s *CRMService) UpdateAPIConfig(ctx context.Context, cfg model.APIConfig) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if err := validator.Validate(cfg); err != nil {
		return err
	}

	cfg.UpdatedAt = utils.Now()
	s.mu.Lock()
	s.apiConfig = cfg
	s.persistAPIConfigLocked(ctx)
	s.mu.Unlock()
	return nil
}

// ContactStats aggregates the contact collection for the analytics view.
func (s *CRMService) ContactStats() model.ContactStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := model.ContactStats{
		Total:      len(s.contacts),
		ByCategory: make(map[model.ContactCategory]int),
		ByRating:   make(map[int]int),
	}
	for _, c := range s.contacts {
		stats.ByCategory[c.Category]++
		stats.ByRating[c.Rating]++
		if c.SyncStatus != model.SyncStatusSynced {
			stats.PendingSync++
		}
	}
	return stats
}

// --- Identity reconciliation ---

// UpsertByIdentity creates or merges a contact keyed by its external
// identity: the optimistic local write lands first, then the record is
// mirrored to the backend. Only an expired session error propagates.
func (s *CRMService) UpsertByIdentity(ctx context.Context, patch model.ContactPatch) (*model.Contact, bool, error) {
	if err := s.requireReady(); err != nil {
		return nil, false, err
	}
	if err := validator.Validate(patch); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	outcome := reconcileContacts(s.contacts, patch, s.reconcileOptions())
	if !outcome.applied {
		// A replayed event can still have collapsed duplicate records; that
		// repair must not be lost just because the patch itself is a no-op.
		if outcome.merged > 0 {
			s.contacts = outcome.contacts
			s.persistContactsLocked(ctx)
		}
		s.mu.Unlock()
		observer.IncIdentityConflictsResolved(outcome.merged)
		contact := outcome.contact
		return &contact, false, nil
	}
	s.contacts = outcome.contacts
	s.persistContactsLocked(ctx)
	s.mu.Unlock()

	observer.IncIdentityConflictsResolved(outcome.merged)

	contact := outcome.contact
	synced, err := s.adapter.CreateOrUpdateContact(ctx, &contact)
	if synced != nil {
		s.replaceContact(ctx, *synced)
		contact = *synced
	}
	if err != nil {
		return &contact, outcome.created, err
	}

	if outcome.created && patch.OwnerID != 0 {
		s.recordInteraction(ctx, contact, patch)
	}
	s.markGuard(outcome, contact, patch)
	return &contact, outcome.created, nil
}

// markGuard records the reconcile outcome in the per-session guard so repeat
// events for the same identity short-circuit. A contact created despite a
// positive filter answer is a bloom false positive worth counting.
func (s *CRMService) markGuard(outcome reconcileOutcome, contact model.Contact, patch model.ContactPatch) {
	if s.guard == nil {
		return
	}
	if outcome.created && s.guard.CheckStatus(patch.ExternalUserID, patch.OwnerID) == cache.StatusMaybeReconciled {
		s.guard.RecordFalsePositive("reconciled")
	}
	if contact.OwnerID == 0 {
		s.guard.MarkUnassigned(patch.ExternalUserID, patch.OwnerID)
		return
	}
	if outcome.created {
		s.guard.MarkReconciled(patch.ExternalUserID, patch.OwnerID)
	}
}

// recordInteraction upserts the (contact, owner) interaction record implied
// by a reconcile step and refreshes the in-memory copy.
func (s *CRMService) recordInteraction(ctx context.Context, contact model.Contact, patch model.ContactPatch) {
	at := patch.Timestamp
	if at.IsZero() {
		at = utils.Now()
	}
	if err := s.adapter.UpsertInteraction(ctx, interactionFor(contact, patch.OwnerID, at)); err != nil {
		logger.FromContext(ctx).Warn("Interaction upsert failed",
			zap.String("contact_id", contact.ID), zap.Error(err))
		return
	}
	var interactions []model.Interaction
	if err := s.snapshots.Load(ctx, model.CollectionInteractions, &interactions); err == nil {
		s.mu.Lock()
		s.interactions = interactions
		s.mu.Unlock()
	}
}

// HandleIncomingMessage applies the conversation bookkeeping of one message
// and, for incoming messages, reconciles the sender into the contact
// collection.
func (s *CRMService) HandleIncomingMessage(ctx context.Context, msg model.IncomingMessage) (*model.Contact, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	if err := validator.Validate(msg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.touchConversationLocked(ctx, msg)
	s.mu.Unlock()

	if msg.Outgoing {
		return nil, nil
	}
	contact, _, err := s.UpsertByIdentity(ctx, msg.Patch())
	return contact, err
}

// touchConversationLocked updates (or creates) the conversation a message
// belongs to. Caller holds the write lock.
func (s *CRMService) touchConversationLocked(ctx context.Context, msg model.IncomingMessage) {
	preview := &model.Message{
		ID:              msg.MessageID,
		ChatID:          msg.ChatID,
		SenderID:        msg.SenderID,
		SenderFirstName: msg.SenderFirstName,
		SenderLastName:  msg.SenderLastName,
		SenderUsername:  msg.SenderUsername,
		Text:            msg.Text,
		Outgoing:        msg.Outgoing,
		SentAt:          msg.SentAt,
	}

	for i := range s.conversations {
		if s.conversations[i].ID != msg.ChatID {
			continue
		}
		s.conversations[i].MessageCount++
		if !msg.Outgoing {
			s.conversations[i].UnreadCount++
		}
		s.conversations[i].LastMessage = preview
		s.conversations[i].LastMessageAt = msg.SentAt
		s.persistConversationsLocked(ctx)
		if s.conversations[i].Kind != model.KindPrivate {
			s.touchChatMemberLocked(ctx, msg)
		}
		return
	}

	kind := msg.ChatKind
	if kind == "" {
		kind = model.KindPrivate
	}
	conv := model.Conversation{
		ID:            msg.ChatID,
		Kind:          kind,
		Title:         msg.ChatTitle,
		FirstName:     msg.SenderFirstName,
		LastName:      msg.SenderLastName,
		Username:      msg.SenderUsername,
		MessageCount:  1,
		OwnerID:       msg.OwnerID,
		LastMessage:   preview,
		LastMessageAt: msg.SentAt,
		CreatedAt:     utils.Now(),
	}
	if !msg.Outgoing {
		conv.UnreadCount = 1
	}
	s.conversations = append(s.conversations, conv)
	s.persistConversationsLocked(ctx)
	if kind != model.KindPrivate {
		s.touchChatMemberLocked(ctx, msg)
	}
}

// touchChatMemberLocked records the sender as a participant of a group
// conversation. Caller holds the write lock.
func (s *CRMService) touchChatMemberLocked(ctx context.Context, msg model.IncomingMessage) {
	if msg.Outgoing || msg.SenderID == 0 {
		return
	}
	for i := range s.chatMembers {
		m := &s.chatMembers[i]
		if m.ChatID != msg.ChatID || m.UserID != msg.SenderID {
			continue
		}
		m.MessageCount++
		m.LastSeenAt = msg.SentAt
		if msg.SenderUsername != "" {
			m.Username = msg.SenderUsername
		}
		s.persistChatMembersLocked(ctx)
		return
	}
	s.chatMembers = append(s.chatMembers, model.ChatMember{
		ChatID:       msg.ChatID,
		UserID:       msg.SenderID,
		FirstName:    msg.SenderFirstName,
		LastName:     msg.SenderLastName,
		Username:     msg.SenderUsername,
		MessageCount: 1,
		LastSeenAt:   msg.SentAt,
		JoinedAt:     utils.Now(),
	})
	s.persistChatMembersLocked(ctx)
}

// ResolveIdentityConflicts collapses any duplicated external identities into
// their earliest-created record. Returns the number of merged duplicates.
func (s *CRMService) ResolveIdentityConflicts(ctx context.Context) (int, error) {
	if err := s.requireReady(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{})
	total := 0
	for i := 0; i < len(s.contacts); i++ {
		id := s.contacts[i].ExternalUserID
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		collapsed, merged := collapseDuplicates(s.contacts, id)
		if merged > 0 {
			s.contacts = collapsed
			total += merged
			i = -1 // indices shifted, restart scan
			seen = map[int64]struct{}{}
		}
	}
	if total > 0 {
		s.persistContactsLocked(ctx)
		observer.IncIdentityConflictsResolved(total)
		logger.FromContext(ctx).Info("Resolved identity conflicts", zap.Int("merged", total))
	}
	return total, nil
}

// --- Explicit contact CRUD ---

// AddContact creates a contact from an explicit form. The external identity
// must be unused.
func (s *CRMService) AddContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	now := utils.Now()
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	if contact.Rating == 0 {
		contact.Rating = 1
	}
	if contact.Category == "" {
		contact.Category = model.CategoryLead
	}
	if contact.Source == "" {
		contact.Source = model.SourcePrivate
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now
	contact.SyncStatus = model.SyncStatusPending

	if err := validator.Validate(contact); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for i := range s.contacts {
		if s.contacts[i].ExternalUserID == contact.ExternalUserID {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: contact with identity %d exists", apperrors.ErrDuplicate, contact.ExternalUserID)
		}
	}
	s.contacts = append(s.contacts, *contact)
	s.persistContactsLocked(ctx)
	s.mu.Unlock()

	synced, err := s.adapter.CreateOrUpdateContact(ctx, contact)
	if synced != nil {
		s.replaceContact(ctx, *synced)
		return synced, err
	}
	return contact, err
}

// UpdateContact applies an explicit edit. The external identity is immutable;
// an attempt to move a record onto an identity held by another contact is an
// identity conflict.
func (s *CRMService) UpdateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	contact.UpdatedAt = utils.Now()
	contact.SyncStatus = model.SyncStatusPending
	if err := validator.Validate(contact); err != nil {
		return nil, err
	}

	s.mu.Lock()
	idx := -1
	for i := range s.contacts {
		if s.contacts[i].ID == contact.ID {
			idx = i
			continue
		}
		if s.contacts[i].ExternalUserID == contact.ExternalUserID {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: identity %d belongs to contact %s", apperrors.ErrIdentityConflict, contact.ExternalUserID, s.contacts[i].ID)
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: contact %s", apperrors.ErrNotFound, contact.ID)
	}
	contact.CreatedAt = s.contacts[idx].CreatedAt
	contact.RemoteID = s.contacts[idx].RemoteID
	s.contacts[idx] = *contact
	s.persistContactsLocked(ctx)
	s.mu.Unlock()

	synced, err := s.adapter.CreateOrUpdateContact(ctx, contact)
	if synced != nil {
		s.replaceContact(ctx, *synced)
		return synced, err
	}
	return contact, err
}

// DeleteContact removes a contact locally and, when possible, remotely.
func (s *CRMService) DeleteContact(ctx context.Context, id string) error {
	if err := s.requireReady(); err != nil {
		return err
	}

	s.mu.Lock()
	idx := -1
	for i := range s.contacts {
		if s.contacts[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: contact %s", apperrors.ErrNotFound, id)
	}
	removed := s.contacts[idx]
	s.contacts = append(s.contacts[:idx], s.contacts[idx+1:]...)
	s.persistContactsLocked(ctx)
	s.mu.Unlock()

	return s.adapter.DeleteContact(ctx, &removed)
}

// --- Owner mutators ---

// AddOwner registers a new owner and repairs dependents.
func (s *CRMService) AddOwner(ctx context.Context, owner model.Owner) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if owner.CreatedAt.IsZero() {
		owner.CreatedAt = utils.Now()
	}
	if err := validator.Validate(owner); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.owners {
		if s.owners[i].ID == owner.ID {
			return fmt.Errorf("%w: owner %d exists", apperrors.ErrDuplicate, owner.ID)
		}
	}
	s.owners = append(s.owners, owner)
	s.persistOwnersLocked(ctx)
	s.repairLocked(ctx)
	return nil
}

// RemoveOwner deletes an owner and repairs every dependent entity.
func (s *CRMService) RemoveOwner(ctx context.Context, id int64) error {
	if err := s.requireReady(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i := range s.owners {
		if s.owners[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: owner %d", apperrors.ErrNotFound, id)
	}
	s.owners = append(s.owners[:idx], s.owners[idx+1:]...)
	s.persistOwnersLocked(ctx)
	s.repairLocked(ctx)
	return nil
}

// RenameOwner changes an owner's display name. Membership is unchanged so no
// repair pass runs.
func (s *CRMService) RenameOwner(ctx context.Context, id int64, displayName string) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if displayName == "" {
		return fmt.Errorf("%w: display name is required", apperrors.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.owners {
		if s.owners[i].ID == id {
			s.owners[i].DisplayName = displayName
			s.persistOwnersLocked(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: owner %d", apperrors.ErrNotFound, id)
}

// repairLocked runs the referential integrity pass over conversations and
// contacts and persists whatever changed. Caller holds the write lock.
func (s *CRMService) repairLocked(ctx context.Context) {
	observer.IncRepairPass()

	convs, repairedConvs := RepairConversations(s.conversations, s.owners)
	if repairedConvs > 0 {
		s.conversations = convs
		s.persistConversationsLocked(ctx)
	}
	contacts, repairedContacts := RepairContactOwners(s.contacts, s.owners)
	if repairedContacts > 0 {
		s.contacts = contacts
		s.persistContactsLocked(ctx)
	}

	total := repairedConvs + repairedContacts
	observer.IncRepairedAssignments(total)
	if total > 0 {
		logger.FromContext(ctx).Info("Repaired dangling owner references",
			zap.Int("conversations", repairedConvs),
			zap.Int("contacts", repairedContacts))
	}
}

// --- Conversation mutators ---

// ReassignConversationOwner moves a conversation to another owner.
func (s *CRMService) ReassignConversationOwner(ctx context.Context, conversationID, ownerID int64) error {
	if err := s.requireReady(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := model.OwnerIDSet(s.owners)[ownerID]; !ok {
		return fmt.Errorf("%w: owner %d", apperrors.ErrNotFound, ownerID)
	}
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].OwnerID = ownerID
			s.persistConversationsLocked(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: conversation %d", apperrors.ErrNotFound, conversationID)
}

// SetConversationPinned toggles the pinned flag.
func (s *CRMService) SetConversationPinned(ctx context.Context, conversationID int64, pinned bool) error {
	return s.mutateConversation(ctx, conversationID, func(c *model.Conversation) {
		c.Pinned = pinned
	})
}

// SetConversationMuted toggles the muted flag.
func (s *CRMService) SetConversationMuted(ctx context.Context, conversationID int64, muted bool) error {
	return s.mutateConversation(ctx, conversationID, func(c *model.Conversation) {
		c.Muted = muted
	})
}

// MarkConversationRead resets the unread counter.
func (s *CRMService) MarkConversationRead(ctx context.Context, conversationID int64) error {
	return s.mutateConversation(ctx, conversationID, func(c *model.Conversation) {
		c.UnreadCount = 0
	})
}

func (s *CRMService) mutateConversation(ctx context.Context, conversationID int64, fn func(*model.Conversation)) error {
	if err := s.requireReady(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			fn(&s.conversations[i])
			s.persistConversationsLocked(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: conversation %d", apperrors.ErrNotFound, conversationID)
}

// SelectConversation marks a conversation active and loads its first message
// page. A load superseded by a newer selection is discarded: the stale
// response returns empty instead of clobbering the active view.
func (s *CRMService) SelectConversation(ctx context.Context, conversationID int64, pageSize int) ([]model.Message, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	found := false
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			found = true
			break
		}
	}
	s.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: conversation %d", apperrors.ErrNotFound, conversationID)
	}

	generation := s.loadGeneration.Add(1)
	s.selectedConversation.Store(conversationID)

	messages := s.adapter.LoadMessages(ctx, conversationID, pageSize, 0)

	if s.loadGeneration.Load() != generation || s.selectedConversation.Load() != conversationID {
		logger.FromContext(ctx).Debug("Discarding superseded conversation load",
			zap.Int64("conversation_id", conversationID))
		return nil, nil
	}

	if err := s.MarkConversationRead(ctx, conversationID); err != nil {
		logger.FromContext(ctx).Warn("Marking conversation read failed",
			zap.Int64("conversation_id", conversationID), zap.Error(err))
	}
	return messages, nil
}

// SelectedConversation returns the id of the active conversation, zero when
// none is selected.
func (s *CRMService) SelectedConversation() int64 {
	return s.selectedConversation.Load()
}

// SendMessage posts an outbound message to the active backend and applies
// the local conversation bookkeeping on success.
func (s *CRMService) SendMessage(ctx context.Context, conversationID int64, text string) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if err := s.adapter.SendMessage(ctx, conversationID, text); err != nil {
		return err
	}
	return s.mutateConversation(ctx, conversationID, func(c *model.Conversation) {
		c.MessageCount++
		c.LastMessageAt = utils.Now()
	})
}

// SendAttachment posts an outbound photo or document.
func (s *CRMService) SendAttachment(ctx context.Context, conversationID int64, kind, caption string, payload []byte) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.adapter.SendAttachment(ctx, conversationID, kind, caption, payload)
}

// --- Transfer mutators ---

// CreateTransfer records a supplier-to-client transfer. Both sides must be
// existing contacts and must differ.
func (s *CRMService) CreateTransfer(ctx context.Context, transfer *model.TransferRecord) (*model.TransferRecord, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	now := utils.Now()
	if transfer.ID == "" {
		transfer.ID = uuid.New().String()
	}
	if transfer.Status == "" {
		transfer.Status = model.TransferNew
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = now
	}
	transfer.UpdatedAt = now
	if err := validator.Validate(transfer); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.contactExistsLocked(transfer.SupplierContactID) {
		return nil, fmt.Errorf("%w: supplier contact %s", apperrors.ErrNotFound, transfer.SupplierContactID)
	}
	if !s.contactExistsLocked(transfer.ClientContactID) {
		return nil, fmt.Errorf("%w: client contact %s", apperrors.ErrNotFound, transfer.ClientContactID)
	}
	s.transfers = append(s.transfers, *transfer)
	s.persistTransfersLocked(ctx)
	return transfer, nil
}

func (s *CRMService) contactExistsLocked(id string) bool {
	for i := range s.contacts {
		if s.contacts[i].ID == id {
			return true
		}
	}
	return false
}

// UpdateTransferStatus advances a transfer's lifecycle state.
func (s *CRMService) UpdateTransferStatus(ctx context.Context, id string, status model.TransferStatus) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if err := validator.ValidateVar(string(status), "oneof=new in_progress completed cancelled"); err != nil {
		return fmt.Errorf("%w: invalid transfer status %q", apperrors.ErrValidation, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transfers {
		if s.transfers[i].ID == id {
			s.transfers[i].Status = status
			s.transfers[i].UpdatedAt = utils.Now()
			s.persistTransfersLocked(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: transfer %s", apperrors.ErrNotFound, id)
}

// DeleteTransfer removes a transfer record.
func (s *CRMService) DeleteTransfer(ctx context.Context, id string) error {
	if err := s.requireReady(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.transfers {
		if s.transfers[i].ID == id {
			s.transfers = append(s.transfers[:i], s.transfers[i+1:]...)
			s.persistTransfersLocked(ctx)
			return nil
		}
	}
	return fmt.Errorf("%w: transfer %s", apperrors.ErrNotFound, id)
}

// --- Keyword mutators ---

// AddKeyword inserts a keyword, case-insensitively unique. Returns whether
// the set changed.
func (s *CRMService) AddKeyword(ctx context.Context, word string) (bool, error) {
	if err := s.requireReady(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	updated, changed := s.keywords.Add(word)
	if changed {
		s.keywords = updated
		s.persistKeywordsLocked(ctx)
	}
	return changed, nil
}

// RemoveKeyword deletes a keyword, matching case-insensitively.
func (s *CRMService) RemoveKeyword(ctx context.Context, word string) (bool, error) {
	if err := s.requireReady(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	updated, changed := s.keywords.Remove(word)
	if changed {
		s.keywords = updated
		s.persistKeywordsLocked(ctx)
	}
	return changed, nil
}

// --- Persistence helpers ---

// replaceContact swaps the in-memory record matching the given contact's id
// or identity. Used to fold a sync result back into the collection.
func (s *CRMService) replaceContact(ctx context.Context, contact model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contacts {
		if s.contacts[i].ID == contact.ID || s.contacts[i].ExternalUserID == contact.ExternalUserID {
			s.contacts[i] = contact
			s.persistContactsLocked(ctx)
			return
		}
	}
}

// Storage failures on snapshot writes are logged and swallowed: the local
// snapshot degrades, it never takes the session down.
func (s *CRMService) persistContactsLocked(ctx context.Context) {
	if err := s.snapshots.Save(ctx, model.CollectionContacts, s.contacts); err != nil {
		logger.FromContext(ctx).Error("Persisting contacts failed", zap.Error(err))
	}
}

func (s *CRMService) persistConversationsLocked(ctx context.Context) {
	if err := s.snapshots.Save(ctx, model.CollectionConversations, s.conversations); err != nil {
		logger.FromContext(ctx).Error("Persisting conversations failed", zap.Error(err))
	}
}

func (s *CRMService) persistOwnersLocked(ctx context.Context) {
	if err := s.snapshots.Save(ctx, model.CollectionOwners, s.owners); err != nil {
		logger.FromContext(ctx).Error("Persisting owners failed", zap.Error(err))
	}
}

func (s *CRMService) persistTransfersLocked(ctx context.Context) {
	if err := s.snapshots.Save(ctx, model.CollectionTransfers, s.transfers); err != nil {
		logger.FromContext(ctx).Error("Persisting transfers failed", zap.Error(err))
	}
}

func (s *CRMService) persistKeywordsLocked(ctx context.Context) {
	if err := s.snapshots.Save(ctx, model.CollectionKeywords, s.keywords); err != nil {
		logger.FromContext(ctx).Error("Persisting keywords failed", zap.Error(err))
	}
}

func (s *CRMService) persistChatMembersLocked(ctx context.Context) {
	if err := s.snapshots.Save(ctx, model.CollectionChatMembers, s.chatMembers); err != nil {
		logger.FromContext(ctx).Error("Persisting chat members failed", zap.Error(err))
	}
}

func (s *CRMService) persistAPIConfigLocked(ctx context.Context) {
	if err := s.snapshots.Save(ctx, model.CollectionAPIConfig, s.apiConfig); err != nil {
		logger.FromContext(ctx).Error("Persisting api config failed", zap.Error(err))
	}
}
