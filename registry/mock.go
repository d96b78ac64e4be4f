package registry

import (
	"context"

	"github.com/landsure/landsure-registry/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedgerClient mocks the interfaces.LedgerClient interface
type MockLedgerClient struct {
	mock.Mock
}

// MockPendingTx is a pending handle for use with MockLedgerClient
type MockPendingTx struct {
	TxHash interfaces.TxHash
	ID     interfaces.CertificateID
}

func (p *MockPendingTx) Hash() interfaces.TxHash                  { return p.TxHash }
func (p *MockPendingTx) CertificateID() interfaces.CertificateID { return p.ID }

func (m *MockLedgerClient) Ready(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockLedgerClient) Signer() interfaces.Address {
	args := m.Called()
	return args.Get(0).(interfaces.Address)
}

func (m *MockLedgerClient) Submit(ctx context.Context, op *interfaces.RegisterOp) (interfaces.PendingTx, error) {
	args := m.Called(ctx, op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.PendingTx), args.Error(1)
}

func (m *MockLedgerClient) AwaitFinality(ctx context.Context, tx interfaces.PendingTx) (*interfaces.CommitReceipt, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.CommitReceipt), args.Error(1)
}

func (m *MockLedgerClient) GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.Certificate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Certificate), args.Error(1)
}

func (m *MockLedgerClient) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Token), args.Error(1)
}

func (m *MockLedgerClient) CertificateIDs(ctx context.Context, after interfaces.CertificateID, limit int) ([]interfaces.CertificateID, error) {
	args := m.Called(ctx, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.CertificateID), args.Error(1)
}

var (
	_ interfaces.LedgerClient = (*MockLedgerClient)(nil)
	_ interfaces.LedgerClient = (*LocalLedgerClient)(nil)
	_ interfaces.LedgerClient = (*OnchainLedgerClient)(nil)
)
