package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
)

// SnapshotStoreMock mocks the SnapshotStore interface
type SnapshotStoreMock struct {
	mock.Mock
}

// Load mocks the Load method
func (m *SnapshotStoreMock) Load(ctx context.Context, name string, out interface{}) error {
	args := m.Called(ctx, name, out)
	return args.Error(0)
}

// Save mocks the Save method
func (m *SnapshotStoreMock) Save(ctx context.Context, name string, v interface{}) error {
	args := m.Called(ctx, name, v)
	return args.Error(0)
}

// Version mocks the Version method
func (m *SnapshotStoreMock) Version(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// SetVersion mocks the SetVersion method
func (m *SnapshotStoreMock) SetVersion(ctx context.Context, version int) error {
	args := m.Called(ctx, version)
	return args.Error(0)
}

// LoadEnvelope mocks the LoadEnvelope method
func (m *SnapshotStoreMock) LoadEnvelope(ctx context.Context) (*model.Envelope, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Envelope), args.Error(1)
}

// SaveEnvelope mocks the SaveEnvelope method
func (m *SnapshotStoreMock) SaveEnvelope(ctx context.Context, env *model.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

// Clear mocks the Clear method
func (m *SnapshotStoreMock) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close mocks the Close method
func (m *SnapshotStoreMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
