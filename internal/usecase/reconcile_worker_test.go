package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/config"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
)

func newTestReconcileWorker(t *testing.T, f *serviceFixture) *ReconcileWorker {
	t.Helper()
	worker, err := NewReconcileWorker(config.ReconcileWorkerPoolConfig{
		PoolSize:   2,
		QueueSize:  16,
		MaxBlock:   time.Second,
		ExpiryTime: time.Minute,
	}, f.service, f.guard, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(worker.Stop)
	return worker
}

func TestReconcileWorker_ProcessesIncomingMessage(t *testing.T) {
	f := readyService(t)
	worker := newTestReconcileWorker(t, f)

	msg := model.IncomingMessage{
		MessageID: 1, ChatID: 42, OwnerID: 1, SenderID: 42,
		SenderFirstName: "Ann", ChatKind: model.KindPrivate,
		Text: "hello", SentAt: time.Now().UTC(),
	}
	require.NoError(t, worker.SubmitTask(ReconcileTaskData{Ctx: context.Background(), Message: msg}))

	assert.Eventually(t, func() bool {
		return len(f.service.Contacts()) == 1
	}, 2*time.Second, 10*time.Millisecond, "worker reconciles the sender into a contact")
	assert.Equal(t, "Ann", f.service.Contacts()[0].FirstName)
}

func TestReconcileWorker_SkipsOutgoingAndSystemMessages(t *testing.T) {
	f := readyService(t)
	worker := newTestReconcileWorker(t, f)
	ctx := context.Background()

	outgoing := model.IncomingMessage{
		MessageID: 1, ChatID: 42, OwnerID: 1, SenderID: 42,
		Outgoing: true, Text: "my reply", SentAt: time.Now().UTC(),
	}
	require.NoError(t, worker.SubmitTask(ReconcileTaskData{Ctx: ctx, Message: outgoing}))

	system := model.IncomingMessage{
		MessageID: 2, ChatID: 42, OwnerID: 1, SenderID: 0,
		Text: "chat photo changed", SentAt: time.Now().UTC(),
	}
	require.NoError(t, worker.SubmitTask(ReconcileTaskData{Ctx: ctx, Message: system}))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.service.Contacts())
	assert.Empty(t, f.service.Conversations(), "skipped tasks never touch conversations either")
}

func TestReconcileWorker_GuardShortCircuitsOpenedEvents(t *testing.T) {
	f := readyService(t)
	worker := newTestReconcileWorker(t, f)
	ctx := context.Background()

	// A real text message reconciles the identity and marks the guard.
	_, err := f.service.HandleIncomingMessage(ctx, model.IncomingMessage{
		MessageID: 1, ChatID: 42, OwnerID: 1, SenderID: 42,
		SenderFirstName: "Ann", ChatKind: model.KindPrivate,
		Text: "hello", SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Len(t, f.service.Contacts(), 1)
	before := f.service.Contacts()[0].MessageCount

	// A text-less conversation-opened event for the same identity is
	// short-circuited by the guard.
	opened := model.IncomingMessage{
		MessageID: 2, ChatID: 42, OwnerID: 1, SenderID: 42,
		SentAt: time.Now().UTC().Add(time.Minute),
	}
	require.NoError(t, worker.SubmitTask(ReconcileTaskData{Ctx: ctx, Message: opened}))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, f.service.Contacts()[0].MessageCount)
}

func TestReconcileWorker_GuardShortCircuitsUnassignedEvents(t *testing.T) {
	f := readyService(t)
	worker := newTestReconcileWorker(t, f)
	ctx := context.Background()

	// A message with no owner creates an unassigned contact and marks the
	// unassigned filter.
	_, err := f.service.HandleIncomingMessage(ctx, model.IncomingMessage{
		MessageID: 1, ChatID: 55, SenderID: 55,
		SenderFirstName: "Bo", ChatKind: model.KindPrivate,
		Text: "hi", SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Len(t, f.service.Contacts(), 1)
	require.Zero(t, f.service.Contacts()[0].OwnerID)
	before := f.service.Contacts()[0].MessageCount

	// A text-less event that still carries no owner cannot assign one, so
	// the guard short-circuits it.
	opened := model.IncomingMessage{
		MessageID: 2, ChatID: 55, SenderID: 55,
		SentAt: time.Now().UTC().Add(time.Minute),
	}
	require.NoError(t, worker.SubmitTask(ReconcileTaskData{Ctx: ctx, Message: opened}))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, f.service.Contacts()[0].MessageCount)
}
