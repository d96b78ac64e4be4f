package projection

import (
	"context"

	"github.com/landsure/landsure-registry/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockProjectionStore mocks the interfaces.ProjectionStore interface
type MockProjectionStore struct {
	mock.Mock
}

func (m *MockProjectionStore) Upsert(ctx context.Context, id interfaces.CertificateID, fields interfaces.ProjectionFields) (*interfaces.ProjectionRecord, error) {
	args := m.Called(ctx, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ProjectionRecord), args.Error(1)
}

func (m *MockProjectionStore) Get(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ProjectionRecord), args.Error(1)
}

func (m *MockProjectionStore) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Token), args.Error(1)
}

func (m *MockProjectionStore) List(ctx context.Context, offset, limit int) ([]interfaces.ProjectionRecord, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.ProjectionRecord), args.Error(1)
}

var _ interfaces.ProjectionStore = (*MockProjectionStore)(nil)
