package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/landsure/landsure-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type MockResyncer struct {
	mock.Mock
}

func (m *MockResyncer) Resync(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ProjectionRecord), args.Error(1)
}

// MockLedgerReader mocks the interfaces.LedgerReader interface
type MockLedgerReader struct {
	mock.Mock
}

func (m *MockLedgerReader) GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.Certificate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Certificate), args.Error(1)
}

func (m *MockLedgerReader) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Token), args.Error(1)
}

func (m *MockLedgerReader) CertificateIDs(ctx context.Context, after interfaces.CertificateID, limit int) ([]interfaces.CertificateID, error) {
	args := m.Called(ctx, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.CertificateID), args.Error(1)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestReconciler(resyncer Resyncer, ledger interfaces.LedgerReader, cfg Config) (*Reconciler, *manualClock) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := New(resyncer, ledger, cfg, nil, nil)
	r.now = clock.Now
	return r, clock
}

func record(id interfaces.CertificateID) *interfaces.ProjectionRecord {
	return &interfaces.ProjectionRecord{CertificateID: id}
}

func TestEnqueueDeduplicates(t *testing.T) {
	r, _ := newTestReconciler(new(MockResyncer), nil, Config{})

	r.Enqueue("CERT-2", errors.New("first"))
	r.Enqueue("CERT-1", nil)
	r.Enqueue("CERT-2", errors.New("second"))

	pending := r.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, interfaces.CertificateID("CERT-1"), pending[0].CertificateID)
	assert.Equal(t, interfaces.CertificateID("CERT-2"), pending[1].CertificateID)
	assert.Equal(t, "second", pending[1].LastError)
	assert.Zero(t, pending[1].Attempts)
}

func TestRetryDue(t *testing.T) {
	resyncer := new(MockResyncer)
	resyncer.On("Resync", mock.Anything, interfaces.CertificateID("CERT-OK")).Return(record("CERT-OK"), nil)
	resyncer.On("Resync", mock.Anything, interfaces.CertificateID("CERT-DOWN")).Return(nil, errors.New("database is locked"))

	r, clock := newTestReconciler(resyncer, nil, Config{RetryInterval: time.Second, MaxBackoff: 4 * time.Second})
	r.Enqueue("CERT-OK", nil)
	r.Enqueue("CERT-DOWN", nil)

	assert.Equal(t, 1, r.RetryDue(context.Background()))

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, interfaces.CertificateID("CERT-DOWN"), pending[0].CertificateID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, clock.Now().Add(time.Second), pending[0].NextAttempt)
	assert.Equal(t, "database is locked", pending[0].LastError)

	// Not due yet.
	assert.Zero(t, r.RetryDue(context.Background()))
	resyncer.AssertNumberOfCalls(t, "Resync", 2)

	clock.Advance(time.Second)
	r.RetryDue(context.Background())
	pending = r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, clock.Now().Add(2*time.Second), pending[0].NextAttempt)
}

func TestBackoff(t *testing.T) {
	r, _ := newTestReconciler(new(MockResyncer), nil, Config{RetryInterval: time.Second, MaxBackoff: 10 * time.Second})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{80, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestRetryDue_DropsCertificatesMissingFromLedger(t *testing.T) {
	resyncer := new(MockResyncer)
	resyncer.On("Resync", mock.Anything, interfaces.CertificateID("CERT-GHOST")).Return(nil, interfaces.ErrNotFound)

	r, clock := newTestReconciler(resyncer, nil, Config{RetryInterval: time.Second, MaxNotFoundAttempts: 3})
	r.Enqueue("CERT-GHOST", nil)

	for i := 0; i < 3; i++ {
		r.RetryDue(context.Background())
		clock.Advance(time.Hour)
	}
	assert.Empty(t, r.Pending())
	resyncer.AssertNumberOfCalls(t, "Resync", 3)
}

func TestResyncAll(t *testing.T) {
	ledger := new(MockLedgerReader)
	ledger.On("CertificateIDs", mock.Anything, interfaces.CertificateID(""), 2).Return([]interfaces.CertificateID{"A", "B"}, nil)
	ledger.On("CertificateIDs", mock.Anything, interfaces.CertificateID("B"), 2).Return([]interfaces.CertificateID{"C"}, nil)

	resyncer := new(MockResyncer)
	resyncer.On("Resync", mock.Anything, interfaces.CertificateID("A")).Return(record("A"), nil)
	resyncer.On("Resync", mock.Anything, interfaces.CertificateID("B")).Return(record("B"), nil)
	resyncer.On("Resync", mock.Anything, interfaces.CertificateID("C")).Return(nil, errors.New("timeout"))

	r, _ := newTestReconciler(resyncer, ledger, Config{PageSize: 2, Workers: 2})
	r.Enqueue("A", errors.New("earlier failure"))

	synced, err := r.ResyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, interfaces.CertificateID("C"), pending[0].CertificateID)
	ledger.AssertExpectations(t)
}

func TestResyncAll_LedgerError(t *testing.T) {
	ledger := new(MockLedgerReader)
	ledger.On("CertificateIDs", mock.Anything, mock.Anything, mock.Anything).Return(nil, interfaces.ErrQuery)

	r, _ := newTestReconciler(new(MockResyncer), ledger, Config{})
	_, err := r.ResyncAll(context.Background())
	require.ErrorIs(t, err, interfaces.ErrQuery)
}

func TestRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	synced := make(chan struct{})
	resyncer := new(MockResyncer)
	resyncer.On("Resync", mock.Anything, interfaces.CertificateID("CERT-1")).
		Return(record("CERT-1"), nil).
		Run(func(mock.Arguments) { close(synced) }).
		Once()

	r := New(resyncer, nil, Config{RetryInterval: time.Hour}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Enqueue("CERT-1", errors.New("projection down"))

	select {
	case <-synced:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueued certificate was not retried")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not stop")
	}
	assert.Empty(t, r.Pending())
}

func TestRun_FullResync(t *testing.T) {
	defer goleak.VerifyNone(t)

	ledger := new(MockLedgerReader)
	ledger.On("CertificateIDs", mock.Anything, interfaces.CertificateID(""), DefaultPageSize).Return([]interfaces.CertificateID{"CERT-1"}, nil)

	var once sync.Once
	synced := make(chan struct{})
	resyncer := new(MockResyncer)
	resyncer.On("Resync", mock.Anything, interfaces.CertificateID("CERT-1")).
		Return(record("CERT-1"), nil).
		Run(func(mock.Arguments) { once.Do(func() { close(synced) }) })

	r := New(resyncer, ledger, Config{RetryInterval: time.Hour, FullResyncInterval: 10 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-synced:
	case <-time.After(5 * time.Second):
		t.Fatal("full resync did not run")
	}
	cancel()
	require.NoError(t, <-done)
}
