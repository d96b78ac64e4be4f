package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/landsure/landsure-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOwner = interfaces.Address{0x11, 0x22, 0x33}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testOp(id string, tokens uint64) *interfaces.RegisterOp {
	return &interfaces.RegisterOp{
		CertificateID:   interfaces.CertificateID(id),
		MainOwner:       testOwner,
		TotalArea:       "1200",
		NumberOfTokens:  tokens,
		CertificateHash: interfaces.ComputeCertificateHash([]byte(id)),
	}
}

func TestRegisterCertificate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	receipt, err := store.RegisterCertificate(ctx, testOp("CERT-1", 2))
	require.NoError(t, err)
	assert.Equal(t, interfaces.CertificateID("CERT-1"), receipt.CertificateID)
	assert.Equal(t, uint64(1), receipt.BlockNumber)
	assert.False(t, receipt.TxHash.IsZero())
	require.Len(t, receipt.TokenIDs, 2)
	assert.NotEqual(t, receipt.TokenIDs[0], receipt.TokenIDs[1])

	cert, err := store.GetCertificate(ctx, "CERT-1")
	require.NoError(t, err)
	assert.Equal(t, testOwner, cert.MainOwner)
	assert.Equal(t, interfaces.TotalArea("1200"), cert.TotalArea)
	assert.Equal(t, uint64(2), cert.NumberOfTokens)
	assert.Equal(t, interfaces.ComputeCertificateHash([]byte("CERT-1")), cert.CertificateHash)
	assert.Equal(t, receipt.TokenIDs, cert.TokenIDs)

	for _, tokenID := range cert.TokenIDs {
		token, err := store.GetToken(ctx, tokenID)
		require.NoError(t, err)
		assert.Equal(t, interfaces.CertificateID("CERT-1"), token.CertificateID)
		assert.Equal(t, testOwner, token.CurrentOwner)
		assert.False(t, token.Burned)
	}

	stored, err := store.Receipt(ctx, receipt.TxHash)
	require.NoError(t, err)
	assert.Equal(t, receipt, stored)

	height, err := store.Height()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)
}

func TestRegisterCertificate_Duplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.RegisterCertificate(ctx, testOp("CERT-1", 2))
	require.NoError(t, err)

	second := testOp("CERT-1", 5)
	second.TotalArea = "999"
	_, err = store.RegisterCertificate(ctx, second)
	assert.ErrorIs(t, err, interfaces.ErrDuplicateCertificate)

	cert, err := store.GetCertificate(ctx, "CERT-1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.TotalArea("1200"), cert.TotalArea)
	assert.Len(t, cert.TokenIDs, 2)

	height, err := store.Height()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height, "rejected registrations do not advance the ledger")

	_, err = store.GetToken(ctx, 3)
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "no tokens minted for the rejected registration")
}

func TestRegisterCertificate_ConcurrentSameID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.RegisterCertificate(ctx, testOp("CERT-RACE", uint64(i+1)))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, interfaces.ErrDuplicateCertificate)
	}
	assert.Equal(t, 1, succeeded)

	cert, err := store.GetCertificate(ctx, "CERT-RACE")
	require.NoError(t, err)
	assert.Len(t, cert.TokenIDs, int(cert.NumberOfTokens))
}

func TestRegisterCertificate_TokenIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seen := map[interfaces.TokenID]string{}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("CERT-%d", i)
		receipt, err := store.RegisterCertificate(ctx, testOp(id, uint64(i+1)))
		require.NoError(t, err)
		require.Len(t, receipt.TokenIDs, i+1)
		for j, tokenID := range receipt.TokenIDs {
			if j > 0 {
				assert.Greater(t, tokenID, receipt.TokenIDs[j-1])
			}
			_, dup := seen[tokenID]
			assert.False(t, dup, "token %s minted twice", tokenID)
			seen[tokenID] = id
		}
	}
	assert.Len(t, seen, 15)
}

func TestRegisterCertificate_Validation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, WithMaxTokensPerCertificate(10))

	tests := []struct {
		name   string
		mutate func(op *interfaces.RegisterOp)
	}{
		{"zero tokens", func(op *interfaces.RegisterOp) { op.NumberOfTokens = 0 }},
		{"too many tokens", func(op *interfaces.RegisterOp) { op.NumberOfTokens = 11 }},
		{"empty id", func(op *interfaces.RegisterOp) { op.CertificateID = "  " }},
		{"zero owner", func(op *interfaces.RegisterOp) { op.MainOwner = interfaces.ZeroAddress }},
		{"zero area", func(op *interfaces.RegisterOp) { op.TotalArea = "0" }},
		{"zero hash", func(op *interfaces.RegisterOp) { op.CertificateHash = interfaces.CertificateHash{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := testOp("CERT-V", 1)
			tt.mutate(op)
			_, err := store.RegisterCertificate(ctx, op)
			assert.ErrorIs(t, err, interfaces.ErrInvalidInput)
		})
	}

	height, err := store.Height()
	require.NoError(t, err)
	assert.Zero(t, height)
}

func TestRegisterCertificate_CancelledBeforeCommit(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.RegisterCertificate(ctx, testOp("CERT-1", 1))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.GetCertificate(context.Background(), "CERT-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetCertificate(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = store.GetToken(ctx, 42)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = store.Receipt(ctx, interfaces.TxHash{1})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestCertificateIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"C", "A", "E", "B", "D"} {
		_, err := store.RegisterCertificate(ctx, testOp(id, 1))
		require.NoError(t, err)
	}

	page, err := store.CertificateIDs(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.CertificateID{"A", "B"}, page)

	page, err = store.CertificateIDs(ctx, "B", 2)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.CertificateID{"C", "D"}, page)

	page, err = store.CertificateIDs(ctx, "D", 10)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.CertificateID{"E"}, page)

	page, err = store.CertificateIDs(ctx, "E", 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := New(WithDataDir(dir))
	require.NoError(t, err)
	_, err = store.RegisterCertificate(ctx, testOp("CERT-1", 3))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := newTestStore(t, WithDataDir(dir))
	cert, err := reopened.GetCertificate(ctx, "CERT-1")
	require.NoError(t, err)
	assert.Len(t, cert.TokenIDs, 3)

	receipt, err := reopened.RegisterCertificate(ctx, testOp("CERT-2", 1))
	require.NoError(t, err)
	assert.Equal(t, []interfaces.TokenID{4}, receipt.TokenIDs)
	assert.Equal(t, uint64(2), receipt.BlockNumber)
}
