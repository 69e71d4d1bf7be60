package storage

import (
	"context"

	"github.com/ruteri/social-image/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockImageStore is a testify mock of interfaces.ImageStore.
type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) Create(ctx context.Context, svg []byte, mode interfaces.IDMode) (interfaces.EntryID, error) {
	args := m.Called(ctx, svg, mode)
	return args.Get(0).(interfaces.EntryID), args.Error(1)
}

func (m *MockImageStore) Read(ctx context.Context, id interfaces.EntryID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockImageStore) Update(ctx context.Context, id interfaces.EntryID, svg []byte) error {
	args := m.Called(ctx, id, svg)
	return args.Error(0)
}

func (m *MockImageStore) Attach(ctx context.Context, id interfaces.EntryID, name string, data []byte) error {
	args := m.Called(ctx, id, name, data)
	return args.Error(0)
}

func (m *MockImageStore) Delete(ctx context.Context, id interfaces.EntryID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
