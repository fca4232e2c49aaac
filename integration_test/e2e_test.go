package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/cache"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/config"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/remote"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/store"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/syncworker"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/usecase"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
)

const validCookie = "valid-session"

// fakeBackend is an in-memory stand-in for the CRM HTTP backend, speaking
// the same JSON surface the production client expects.
type fakeBackend struct {
	mu           sync.Mutex
	nextRemoteID int64
	contacts     map[int64]model.Contact // keyed by remote id
	interactions []model.Interaction
	owners       []model.Owner
	chats        map[int64][]model.Conversation
	messages     map[int64][]model.Message
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		contacts: make(map[int64]model.Contact),
		chats:    make(map[int64][]model.Conversation),
		messages: make(map[int64][]model.Message),
	}
}

func (b *fakeBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("crm_session")
		if err != nil || cookie.Value != validCookie {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "session expired"})
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/")
		parts := strings.Split(path, "/")
		switch {
		case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "contacts" && parts[1] == "telegram":
			extID, _ := strconv.ParseInt(parts[2], 10, 64)
			for _, c := range b.contacts {
				if c.ExternalUserID == extID {
					writeJSON(w, http.StatusOK, c)
					return
				}
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})

		case r.Method == http.MethodPost && path == "contacts":
			var contact model.Contact
			_ = json.NewDecoder(r.Body).Decode(&contact)
			b.nextRemoteID++
			contact.RemoteID = b.nextRemoteID
			b.contacts[contact.RemoteID] = contact
			writeJSON(w, http.StatusOK, contact)

		case r.Method == http.MethodPut && len(parts) == 2 && parts[0] == "contacts":
			remoteID, _ := strconv.ParseInt(parts[1], 10, 64)
			if _, ok := b.contacts[remoteID]; !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
				return
			}
			var contact model.Contact
			_ = json.NewDecoder(r.Body).Decode(&contact)
			contact.RemoteID = remoteID
			b.contacts[remoteID] = contact
			writeJSON(w, http.StatusOK, contact)

		case r.Method == http.MethodDelete && len(parts) == 2 && parts[0] == "contacts":
			remoteID, _ := strconv.ParseInt(parts[1], 10, 64)
			delete(b.contacts, remoteID)
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

		case r.Method == http.MethodGet && path == "contacts":
			out := make([]model.Contact, 0, len(b.contacts))
			for _, c := range b.contacts {
				out = append(out, c)
			}
			writeJSON(w, http.StatusOK, out)

		case r.Method == http.MethodPost && path == "contacts/interactions":
			var interaction model.Interaction
			_ = json.NewDecoder(r.Body).Decode(&interaction)
			b.interactions = append(b.interactions, interaction)
			writeJSON(w, http.StatusOK, interaction)

		case r.Method == http.MethodGet && path == "business-accounts":
			writeJSON(w, http.StatusOK, b.owners)

		case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "business-accounts" && parts[2] == "chats":
			ownerID, _ := strconv.ParseInt(parts[1], 10, 64)
			writeJSON(w, http.StatusOK, b.chats[ownerID])

		case r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "chats" && parts[3] == "messages":
			chatID, _ := strconv.ParseInt(parts[2], 10, 64)
			writeJSON(w, http.StatusOK, b.messages[chatID])

		case r.Method == http.MethodPost && strings.HasPrefix(path, "business-accounts/send-"):
			writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})

		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route"})
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fixture struct {
	backend   *fakeBackend
	server    *httptest.Server
	client    *remote.Client
	snapshots store.SnapshotStore
	service   *usecase.CRMService
	cfg       *config.Config
}

func newFixture(t *testing.T, cookie string) *fixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	backend := newFakeBackend()
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	client, err := remote.NewClient(server.URL, cookie, 5*time.Second)
	require.NoError(t, err)

	snapshots, err := store.NewSQLiteStore(":memory:", "tg_crm")
	require.NoError(t, err)
	t.Cleanup(func() { _ = snapshots.Close(context.Background()) })

	cfg := &config.Config{}
	cfg.Contacts.PlaceholderName = "Unknown contact"
	cfg.Contacts.UsernameHistorySize = 20
	cfg.Bootstrap.OwnerName = "Primary account"
	cfg.SyncFlush = config.FlushConfig{
		Interval:   time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}

	adapter := remote.NewSyncAdapter(client, client, snapshots)
	guard := cache.NewReconcileGuard(1000, 1000, 0.01)

	return &fixture{
		backend:   backend,
		server:    server,
		client:    client,
		snapshots: snapshots,
		service:   usecase.NewCRMService(cfg, snapshots, adapter, guard),
		cfg:       cfg,
	}
}

func TestMessageBecomesSyncedContact(t *testing.T) {
	f := newFixture(t, validCookie)
	ctx := context.Background()

	f.backend.owners = []model.Owner{
		{ID: 1, DisplayName: "Shop", Enabled: true, CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, f.service.Init(ctx))

	_, err := f.service.HandleIncomingMessage(ctx, model.IncomingMessage{
		MessageID: 1, ChatID: 42, OwnerID: 1, SenderID: 42,
		SenderFirstName: "Ann", SenderUsername: "ann_v",
		ChatKind: model.KindPrivate, Text: "hello", SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	contacts := f.service.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, model.SyncStatusSynced, contacts[0].SyncStatus)
	assert.NotZero(t, contacts[0].RemoteID, "backend row id folded back in")
	assert.Equal(t, model.CategoryLead, contacts[0].Category)

	f.backend.mu.Lock()
	assert.Len(t, f.backend.contacts, 1, "contact mirrored to the backend")
	assert.Len(t, f.backend.interactions, 1, "first contact records an interaction")
	f.backend.mu.Unlock()

	// A follow-up message updates the existing backend row instead of
	// creating a second one.
	_, err = f.service.HandleIncomingMessage(ctx, model.IncomingMessage{
		MessageID: 2, ChatID: 42, OwnerID: 1, SenderID: 42,
		SenderFirstName: "Ann", ChatKind: model.KindPrivate,
		Text: "still me", SentAt: time.Now().UTC().Add(time.Minute),
	})
	require.NoError(t, err)

	f.backend.mu.Lock()
	assert.Len(t, f.backend.contacts, 1)
	f.backend.mu.Unlock()
	contacts = f.service.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, 2, contacts[0].MessageCount)
}

func TestOfflineWritesFlushAfterSessionRenewal(t *testing.T) {
	f := newFixture(t, "") // no session cookie: every write stays local
	ctx := context.Background()

	require.NoError(t, f.service.Init(ctx))
	require.NoError(t, f.service.AddOwner(ctx, model.Owner{ID: 1, DisplayName: "Shop", Enabled: true}))

	_, err := f.service.AddContact(ctx, &model.Contact{ExternalUserID: 42, FirstName: "Ann", OwnerID: 1})
	require.NoError(t, err)
	require.Equal(t, model.SyncStatusPending, f.service.Contacts()[0].SyncStatus)

	flusher := syncworker.NewWorker(f.cfg.SyncFlush, f.service, zaptest.NewLogger(t))

	// Still offline: the cycle is a no-op, no retry budget is burned.
	flusher.FlushCycle(ctx)
	assert.Equal(t, model.SyncStatusPending, f.service.Contacts()[0].SyncStatus)
	assert.Zero(t, f.service.Contacts()[0].SyncRetries)

	f.client.RenewSession(validCookie)
	flusher.FlushCycle(ctx)

	contacts := f.service.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, model.SyncStatusSynced, contacts[0].SyncStatus)
	assert.NotZero(t, contacts[0].RemoteID)

	f.backend.mu.Lock()
	assert.Len(t, f.backend.contacts, 1)
	f.backend.mu.Unlock()
}

func TestRestartServesPersistedSnapshot(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	require.NoError(t, f.service.Init(ctx))
	require.NoError(t, f.service.AddOwner(ctx, model.Owner{ID: 1, DisplayName: "Shop", Enabled: true}))
	_, err := f.service.AddContact(ctx, &model.Contact{ExternalUserID: 42, FirstName: "Ann", OwnerID: 1})
	require.NoError(t, err)
	_, err = f.service.AddKeyword(ctx, "wholesale")
	require.NoError(t, err)

	// A second service over the same store is a process restart.
	adapter := remote.NewSyncAdapter(f.client, f.client, f.snapshots)
	restarted := usecase.NewCRMService(f.cfg, f.snapshots, adapter, nil)
	require.NoError(t, restarted.Init(ctx))

	require.Len(t, restarted.Contacts(), 1)
	assert.Equal(t, "Ann", restarted.Contacts()[0].FirstName)
	assert.Equal(t, model.SyncStatusPending, restarted.Contacts()[0].SyncStatus, "unsynced write survives restart")
	require.Len(t, restarted.Owners(), 1)
	assert.Equal(t, model.KeywordSet{"wholesale"}, restarted.Keywords())
}

func TestLegacyStoreMigratesOnInit(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	// Persist a version-1 snapshot: a managers collection and a
	// conversation that references its manager through the legacy field.
	env := model.NewEnvelope(1)
	env.Set("managers", json.RawMessage(`[{"id":5,"name":"Old Desk","username":"desk","is_enabled":true}]`))
	convs, err := json.Marshal([]model.Conversation{
		{ID: 42, Kind: model.KindPrivate, FirstName: "Ann", LegacyManagerRef: "5"},
	})
	require.NoError(t, err)
	env.Set(model.CollectionConversations, convs)
	require.NoError(t, f.snapshots.SaveEnvelope(ctx, env))
	require.NoError(t, f.snapshots.SetVersion(ctx, 1))

	require.NoError(t, f.service.Init(ctx))

	owners := f.service.Owners()
	require.Len(t, owners, 1)
	assert.Equal(t, int64(5), owners[0].ID)
	assert.Equal(t, "Old Desk", owners[0].DisplayName)

	convsOut := f.service.Conversations()
	require.Len(t, convsOut, 1)
	assert.Equal(t, int64(5), convsOut[0].OwnerID, "legacy hint stamped during migration")

	version, err := f.snapshots.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.CurrentSchemaVersion, version)
}
