package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/apperrors"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/cache"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/config"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/remote"
	remotemock "gitlab.com/timkado/api/daisi-tg-crm-sync/internal/remote/mock"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/store"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
)

type serviceFixture struct {
	service   *CRMService
	backend   *remotemock.BackendMock
	snapshots store.SnapshotStore
	guard     *cache.ReconcileGuard
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Contacts.PlaceholderName = "Unknown contact"
	cfg.Contacts.UsernameHistorySize = 20
	cfg.Bootstrap.OwnerName = "Primary account"
	return cfg
}

// newServiceFixture wires a CRMService against a real in-memory snapshot
// store. With online=false the session checker reports invalid and the
// backend mock must never be touched.
func newServiceFixture(t *testing.T, online bool) *serviceFixture {
	t.Helper()
	zaptestInit(t)

	snapshots, err := store.NewSQLiteStore(":memory:", "tg_crm")
	require.NoError(t, err)
	t.Cleanup(func() { _ = snapshots.Close(context.Background()) })

	backend := new(remotemock.BackendMock)
	adapter := remote.NewSyncAdapter(backend, remotemock.StaticSession(online), snapshots)
	guard := cache.NewReconcileGuard(1000, 1000, 0.01)

	return &serviceFixture{
		service:   NewCRMService(testConfig(), snapshots, adapter, guard),
		backend:   backend,
		snapshots: snapshots,
		guard:     guard,
	}
}

// readyService returns an initialized offline service with one owner.
func readyService(t *testing.T) *serviceFixture {
	t.Helper()
	f := newServiceFixture(t, false)
	require.NoError(t, f.service.Init(context.Background()))
	require.NoError(t, f.service.AddOwner(context.Background(), model.Owner{
		ID: 1, DisplayName: "Primary account", Enabled: true,
	}))
	return f
}

func TestCRMService_InitLifecycle(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()

	assert.Equal(t, StateUninitialized, f.service.State())

	_, err := f.service.AddKeyword(ctx, "urgent")
	require.Error(t, err, "mutators rejected before init")
	assert.True(t, apperrors.IsBadRequestError(err))

	require.NoError(t, f.service.Init(ctx))
	assert.Equal(t, StateReady, f.service.State())

	err = f.service.Init(ctx)
	require.Error(t, err, "double init rejected")
	assert.True(t, apperrors.IsBadRequestError(err))
}

func TestCRMService_InitLoadsRemoteCollections(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()

	owner := model.Owner{ID: 7, DisplayName: "Shop", Enabled: true, CreatedAt: time.Now().UTC()}
	f.backend.On("ListOwners", mock.Anything).Return([]model.Owner{owner}, nil)
	f.backend.On("ListConversations", mock.Anything, int64(7)).Return([]model.Conversation{
		{ID: 100, Kind: model.KindPrivate, FirstName: "Ann"},
		{ID: 101, Kind: model.KindPrivate, FirstName: "Bob", OwnerID: 99},
	}, nil)
	f.backend.On("ListContacts", mock.Anything).Return([]model.Contact{
		*model.NewContact(&model.Contact{ExternalUserID: 100, FirstName: "Ann", OwnerID: 7}),
	}, nil)

	require.NoError(t, f.service.Init(ctx))

	assert.Len(t, f.service.Owners(), 1)
	assert.Len(t, f.service.Contacts(), 1)
	convs := f.service.Conversations()
	require.Len(t, convs, 2)
	for _, c := range convs {
		assert.Equal(t, int64(7), c.OwnerID, "init repairs missing and dangling assignments")
	}
	f.backend.AssertExpectations(t)
}

func TestCRMService_UpsertByIdentity_EndToEnd(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	contact, created, err := f.service.UpsertByIdentity(ctx, model.ContactPatch{
		ExternalUserID: 42, FirstName: "Ann", Username: "ann_v",
		ConversationKind: model.KindPrivate, OwnerID: 1, Timestamp: at,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, contact.Rating)
	assert.Equal(t, model.CategoryLead, contact.Category)
	assert.Equal(t, model.SyncStatusPending, contact.SyncStatus, "offline write stays pending")

	_, created, err = f.service.UpsertByIdentity(ctx, model.ContactPatch{
		ExternalUserID: 42, Username: "ann_w", OwnerID: 1, Timestamp: at.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, created)

	// Same identity, same timestamp: a replayed event changes nothing.
	replayed, created, err := f.service.UpsertByIdentity(ctx, model.ContactPatch{
		ExternalUserID: 42, OwnerID: 1, Timestamp: at.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 2, replayed.MessageCount)

	contacts := f.service.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, "ann_w", contacts[0].Username)
	require.Len(t, contacts[0].UsernameHistory, 1)
	assert.Equal(t, "ann_v", contacts[0].UsernameHistory[0].Value)

	// The optimistic write is persisted, not just in memory.
	var persisted []model.Contact
	require.NoError(t, f.snapshots.Load(ctx, model.CollectionContacts, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, 2, persisted[0].MessageCount)
}

func TestCRMService_UpsertByIdentity_RejectsBadRating(t *testing.T) {
	f := readyService(t)

	_, _, err := f.service.UpsertByIdentity(context.Background(), model.ContactPatch{
		ExternalUserID: 42, Rating: 9,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
	assert.Empty(t, f.service.Contacts())
}

func TestCRMService_AddContact_DuplicateIdentity(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	first, err := f.service.AddContact(ctx, &model.Contact{ExternalUserID: 42, FirstName: "Ann"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID, "id assigned")
	assert.Equal(t, 1, first.Rating, "rating defaulted")

	_, err = f.service.AddContact(ctx, &model.Contact{ExternalUserID: 42, FirstName: "Ann again"})
	require.Error(t, err)
	assert.True(t, apperrors.IsDuplicateError(err))
	assert.Len(t, f.service.Contacts(), 1)
}

func TestCRMService_UpdateContact_IdentityImmutable(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	ann, err := f.service.AddContact(ctx, &model.Contact{ExternalUserID: 42, FirstName: "Ann"})
	require.NoError(t, err)
	_, err = f.service.AddContact(ctx, &model.Contact{ExternalUserID: 43, FirstName: "Bob"})
	require.NoError(t, err)

	edited := *ann
	edited.ExternalUserID = 43
	_, err = f.service.UpdateContact(ctx, &edited)
	require.Error(t, err)
	assert.True(t, apperrors.IsIdentityConflictError(err))

	missing := *ann
	missing.ID = "no-such-record"
	missing.ExternalUserID = 44
	_, err = f.service.UpdateContact(ctx, &missing)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))

	renamed := *ann
	renamed.FirstName = "Anna"
	renamed.Rating = 4
	out, err := f.service.UpdateContact(ctx, &renamed)
	require.NoError(t, err)
	assert.Equal(t, "Anna", out.FirstName)
	assert.Equal(t, ann.CreatedAt, out.CreatedAt, "creation time preserved")
}

func TestCRMService_DeleteContact(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	ann, err := f.service.AddContact(ctx, &model.Contact{ExternalUserID: 42, FirstName: "Ann"})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteContact(ctx, ann.ID))
	assert.Empty(t, f.service.Contacts())

	err = f.service.DeleteContact(ctx, ann.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestCRMService_RemoveOwnerRepairsDependents(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	require.NoError(t, f.service.AddOwner(ctx, model.Owner{
		ID: 2, DisplayName: "Second", Enabled: true, CreatedAt: time.Now().UTC().Add(time.Hour),
	}))
	msg := model.NewIncomingMessage(&model.IncomingMessage{ChatID: 500, OwnerID: 2})
	_, err := f.service.HandleIncomingMessage(ctx, *msg)
	require.NoError(t, err)

	require.NoError(t, f.service.RemoveOwner(ctx, 2))

	convs := f.service.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, int64(1), convs[0].OwnerID, "orphaned conversation handed to the first owner")
	for _, c := range f.service.Contacts() {
		assert.Equal(t, int64(1), c.OwnerID)
	}

	err = f.service.AddOwner(ctx, model.Owner{ID: 1, DisplayName: "Clone"})
	require.Error(t, err)
	assert.True(t, apperrors.IsDuplicateError(err))
}

func TestCRMService_HandleIncomingMessage(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	msg := model.IncomingMessage{
		MessageID: 1, ChatID: 900, OwnerID: 1, SenderID: 42,
		SenderFirstName: "Ann", ChatKind: model.KindPrivate,
		Text: "hello", SentAt: time.Now().UTC(),
	}
	contact, err := f.service.HandleIncomingMessage(ctx, msg)
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Ann", contact.FirstName)

	convs := f.service.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, 1, convs[0].MessageCount)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "hello", convs[0].LastMessage.Text)

	reply := msg
	reply.MessageID = 2
	reply.Outgoing = true
	contact, err = f.service.HandleIncomingMessage(ctx, reply)
	require.NoError(t, err)
	assert.Nil(t, contact, "outgoing messages never touch the contact collection")

	convs = f.service.Conversations()
	assert.Equal(t, 2, convs[0].MessageCount)
	assert.Equal(t, 1, convs[0].UnreadCount, "own reply does not bump unread")
	assert.Len(t, f.service.Contacts(), 1)
}

func TestCRMService_ConversationMutators(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	msg := model.NewIncomingMessage(&model.IncomingMessage{ChatID: 900, OwnerID: 1})
	_, err := f.service.HandleIncomingMessage(ctx, *msg)
	require.NoError(t, err)

	require.NoError(t, f.service.SetConversationPinned(ctx, 900, true))
	require.NoError(t, f.service.SetConversationMuted(ctx, 900, true))
	require.NoError(t, f.service.MarkConversationRead(ctx, 900))

	convs := f.service.Conversations()
	assert.True(t, convs[0].Pinned)
	assert.True(t, convs[0].Muted)
	assert.Zero(t, convs[0].UnreadCount)

	err = f.service.ReassignConversationOwner(ctx, 900, 77)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err), "target owner must exist")

	err = f.service.SetConversationPinned(ctx, 12345, true)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestCRMService_SelectConversation(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	msg := model.NewIncomingMessage(&model.IncomingMessage{ChatID: 900, OwnerID: 1})
	_, err := f.service.HandleIncomingMessage(ctx, *msg)
	require.NoError(t, err)

	_, err = f.service.SelectConversation(ctx, 12345, 50)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))

	messages, err := f.service.SelectConversation(ctx, 900, 50)
	require.NoError(t, err)
	assert.Empty(t, messages, "no session means an empty history page")
	assert.Equal(t, int64(900), f.service.SelectedConversation())
	assert.Zero(t, f.service.Conversations()[0].UnreadCount, "selection marks the conversation read")
}

func TestCRMService_SendMessageOffline(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	msg := model.NewIncomingMessage(&model.IncomingMessage{ChatID: 900, OwnerID: 1})
	_, err := f.service.HandleIncomingMessage(ctx, *msg)
	require.NoError(t, err)

	err = f.service.SendMessage(ctx, 900, "hi")
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthExpiredError(err))
	assert.Equal(t, 1, f.service.Conversations()[0].MessageCount, "failed send leaves counters alone")
}

func TestCRMService_Transfers(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	supplier, err := f.service.AddContact(ctx, &model.Contact{ExternalUserID: 42, FirstName: "Mill"})
	require.NoError(t, err)
	client, err := f.service.AddContact(ctx, &model.Contact{ExternalUserID: 43, FirstName: "Store"})
	require.NoError(t, err)

	_, err = f.service.CreateTransfer(ctx, &model.TransferRecord{
		SupplierContactID: supplier.ID, ClientContactID: supplier.ID,
	})
	require.Error(t, err, "supplier and client must differ")
	assert.True(t, apperrors.IsValidationError(err))

	_, err = f.service.CreateTransfer(ctx, &model.TransferRecord{
		SupplierContactID: supplier.ID, ClientContactID: "ghost",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))

	transfer, err := f.service.CreateTransfer(ctx, &model.TransferRecord{
		SupplierContactID: supplier.ID, ClientContactID: client.ID, Notes: "200 units",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransferNew, transfer.Status)

	err = f.service.UpdateTransferStatus(ctx, transfer.ID, "shipped")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))

	require.NoError(t, f.service.UpdateTransferStatus(ctx, transfer.ID, model.TransferCompleted))
	assert.Equal(t, model.TransferCompleted, f.service.Transfers()[0].Status)

	require.NoError(t, f.service.DeleteTransfer(ctx, transfer.ID))
	assert.Empty(t, f.service.Transfers())
}

func TestCRMService_Keywords(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	changed, err := f.service.AddKeyword(ctx, "Urgent")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.service.AddKeyword(ctx, "urgent")
	require.NoError(t, err)
	assert.False(t, changed, "case-insensitive uniqueness")

	changed, err = f.service.RemoveKeyword(ctx, "URGENT")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, f.service.Keywords())
}

func TestCRMService_ContactStats(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	_, err := f.service.AddContact(ctx, &model.Contact{ExternalUserID: 42, FirstName: "Ann"})
	require.NoError(t, err)
	_, err = f.service.AddContact(ctx, &model.Contact{
		ExternalUserID: 43, FirstName: "Bob", Category: model.CategoryClient, Rating: 5,
	})
	require.NoError(t, err)

	stats := f.service.ContactStats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByCategory[model.CategoryLead])
	assert.Equal(t, 1, stats.ByCategory[model.CategoryClient])
	assert.Equal(t, 1, stats.ByRating[1])
	assert.Equal(t, 1, stats.ByRating[5])
	assert.Equal(t, 2, stats.PendingSync, "offline writes wait for the flusher")
}

func TestCRMService_ResolveIdentityConflicts(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.service.mu.Lock()
	f.service.contacts = []model.Contact{
		*model.NewContact(&model.Contact{ID: "b", ExternalUserID: 42, MessageCount: 3, CreatedAt: created.Add(time.Hour)}),
		*model.NewContact(&model.Contact{ID: "a", ExternalUserID: 42, MessageCount: 2, CreatedAt: created}),
		*model.NewContact(&model.Contact{ID: "c", ExternalUserID: 43, CreatedAt: created}),
	}
	f.service.mu.Unlock()

	merged, err := f.service.ResolveIdentityConflicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	contacts := f.service.Contacts()
	require.Len(t, contacts, 2)
	assert.Equal(t, "a", contacts[0].ID, "earliest record survives")
	assert.Equal(t, 5, contacts[0].MessageCount)
}

func TestGroupMessagesAccumulateChatMembers(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	group := model.IncomingMessage{
		MessageID: 1, ChatID: 500, OwnerID: 1, SenderID: 71,
		SenderFirstName: "Ann", SenderUsername: "ann",
		ChatKind: model.KindGroup, ChatTitle: "Suppliers",
		Text: "hello", SentAt: time.Now().UTC(),
	}
	_, err := f.service.HandleIncomingMessage(ctx, group)
	require.NoError(t, err)

	second := group
	second.MessageID = 2
	second.SenderID = 72
	second.SenderFirstName = "Bo"
	second.SenderUsername = "bo"
	second.SentAt = group.SentAt.Add(time.Minute)
	_, err = f.service.HandleIncomingMessage(ctx, second)
	require.NoError(t, err)

	third := group
	third.MessageID = 3
	third.SentAt = group.SentAt.Add(2 * time.Minute)
	_, err = f.service.HandleIncomingMessage(ctx, third)
	require.NoError(t, err)

	members := f.service.ChatMembers(500)
	require.Len(t, members, 2, "repeat sender deduplicated")
	assert.Equal(t, int64(71), members[0].UserID)
	assert.Equal(t, 2, members[0].MessageCount)
	assert.Equal(t, third.SentAt, members[0].LastSeenAt)

	// Private chats record no members.
	_, err = f.service.HandleIncomingMessage(ctx, model.IncomingMessage{
		MessageID: 4, ChatID: 42, OwnerID: 1, SenderID: 42,
		SenderFirstName: "Cy", ChatKind: model.KindPrivate,
		Text: "hi", SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Empty(t, f.service.ChatMembers(42))

	var persisted []model.ChatMember
	require.NoError(t, f.snapshots.Load(ctx, model.CollectionChatMembers, &persisted))
	assert.Len(t, persisted, 2)
}

func TestUpdateAPIConfig(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	err := f.service.UpdateAPIConfig(ctx, model.APIConfig{})
	assert.True(t, apperrors.IsValidationError(err), "base URL is required")

	require.NoError(t, f.service.UpdateAPIConfig(ctx, model.APIConfig{
		BaseURL:        "https://crm.example.com",
		RequestTimeout: 5 * time.Second,
	}))
	got := f.service.APIConfig()
	assert.Equal(t, "https://crm.example.com", got.BaseURL)
	assert.False(t, got.UpdatedAt.IsZero())

	var persisted model.APIConfig
	require.NoError(t, f.snapshots.Load(ctx, model.CollectionAPIConfig, &persisted))
	assert.Equal(t, "https://crm.example.com", persisted.BaseURL)
}

func TestUpsertByIdentity_ReplayStillPersistsCollapsedDuplicates(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lastContact := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	f.service.mu.Lock()
	f.service.contacts = []model.Contact{
		*model.NewContact(&model.Contact{ID: "a", ExternalUserID: 42, MessageCount: 2, CreatedAt: created, LastContactAt: lastContact}),
		*model.NewContact(&model.Contact{ID: "b", ExternalUserID: 42, MessageCount: 3, CreatedAt: created.Add(time.Hour), LastContactAt: lastContact}),
	}
	f.service.mu.Unlock()

	// The patch replays an already-applied event, but the duplicate collapse
	// it triggered must survive in memory and on disk.
	contact, created2, err := f.service.UpsertByIdentity(ctx, model.ContactPatch{
		ExternalUserID: 42, OwnerID: 1, Timestamp: lastContact,
	})
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, "a", contact.ID)

	require.Len(t, f.service.Contacts(), 1)

	var persisted []model.Contact
	require.NoError(t, f.snapshots.Load(ctx, model.CollectionContacts, &persisted))
	require.Len(t, persisted, 1, "collapsed collection persisted despite the no-op patch")
	assert.Equal(t, "a", persisted[0].ID)
	assert.Equal(t, 5, persisted[0].MessageCount)
}

func TestUpsertByIdentity_CountsGuardFalsePositives(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	// The filter claims the identity was reconciled although no contact
	// exists; the create that follows proves it wrong.
	f.guard.MarkReconciled(42, 1)

	_, created, err := f.service.UpsertByIdentity(ctx, model.ContactPatch{
		ExternalUserID: 42, FirstName: "Ann", OwnerID: 1,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, created)

	assert.Equal(t, int64(1), f.guard.GetStats().FalsePositives)
}

func TestCRMService_LogoutClearsEverything(t *testing.T) {
	f := readyService(t)
	ctx := context.Background()

	_, err := f.service.AddContact(ctx, &model.Contact{ExternalUserID: 42, FirstName: "Ann"})
	require.NoError(t, err)
	_, err = f.service.AddKeyword(ctx, "urgent")
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx))
	assert.Equal(t, StateUninitialized, f.service.State())
	assert.Empty(t, f.service.Contacts())
	assert.Empty(t, f.service.Owners())
	assert.Zero(t, f.service.SelectedConversation())

	var persisted []model.Contact
	require.NoError(t, f.snapshots.Load(ctx, model.CollectionContacts, &persisted))
	assert.Empty(t, persisted, "persisted namespace wiped")

	require.NoError(t, f.service.Init(ctx), "a fresh session can start after logout")
	assert.Equal(t, StateReady, f.service.State())
}

func zaptestInit(t *testing.T) {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)
}
