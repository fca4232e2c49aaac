// Package mock provides testify mocks for the remote package interfaces.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
)

// BackendMock is a testify mock of remote.Backend.
type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) FindContactByIdentity(ctx context.Context, externalUserID int64) (*model.Contact, error) {
	args := m.Called(ctx, externalUserID)
	if contact, ok := args.Get(0).(*model.Contact); ok {
		return contact, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BackendMock) CreateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	args := m.Called(ctx, contact)
	if created, ok := args.Get(0).(*model.Contact); ok {
		return created, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BackendMock) UpdateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	args := m.Called(ctx, contact)
	if updated, ok := args.Get(0).(*model.Contact); ok {
		return updated, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BackendMock) DeleteContact(ctx context.Context, remoteID int64) error {
	args := m.Called(ctx, remoteID)
	return args.Error(0)
}

func (m *BackendMock) ListContacts(ctx context.Context) ([]model.Contact, error) {
	args := m.Called(ctx)
	if contacts, ok := args.Get(0).([]model.Contact); ok {
		return contacts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BackendMock) UpsertInteraction(ctx context.Context, interaction *model.Interaction) error {
	args := m.Called(ctx, interaction)
	return args.Error(0)
}

func (m *BackendMock) ListOwners(ctx context.Context) ([]model.Owner, error) {
	args := m.Called(ctx)
	if owners, ok := args.Get(0).([]model.Owner); ok {
		return owners, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BackendMock) ListConversations(ctx context.Context, ownerID int64) ([]model.Conversation, error) {
	args := m.Called(ctx, ownerID)
	if convs, ok := args.Get(0).([]model.Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BackendMock) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if messages, ok := args.Get(0).([]model.Message); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BackendMock) SendMessage(ctx context.Context, conversationID int64, text string) error {
	args := m.Called(ctx, conversationID, text)
	return args.Error(0)
}

func (m *BackendMock) SendAttachment(ctx context.Context, conversationID int64, kind, caption string, payload []byte) error {
	args := m.Called(ctx, conversationID, kind, caption, payload)
	return args.Error(0)
}

// SessionCheckerMock is a testify mock of remote.SessionChecker.
type SessionCheckerMock struct {
	mock.Mock
}

func (m *SessionCheckerMock) SessionValid(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// StaticSession is a trivial SessionChecker with a fixed answer.
type StaticSession bool

func (s StaticSession) SessionValid(context.Context) bool { return bool(s) }
