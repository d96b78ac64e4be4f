package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/landsure/landsure-registry/api"
	"github.com/landsure/landsure-registry/coordinator"
	"github.com/landsure/landsure-registry/interfaces"
	"github.com/landsure/landsure-registry/ledger"
	"github.com/landsure/landsure-registry/projection"
	"github.com/landsure/landsure-registry/registry"
	"github.com/landsure/landsure-registry/storage"
	"github.com/landsure/landsure-registry/syncer"
	"github.com/landsure/landsure-registry/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigner = interfaces.Address{0x5e, 0x11}

type staticBacklog []syncer.Entry

func (b staticBacklog) Pending() []syncer.Entry { return b }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer wires the full local stack behind the API router.
func newTestServer(t *testing.T, records []verification.Record, backlog Backlog) http.Handler {
	t.Helper()
	log := testLogger()

	store, err := ledger.New(ledger.WithLogger(log))
	require.NoError(t, err)
	client := registry.NewLocalLedgerClient(store, registry.LocalClientConfig{Signer: testSigner}, log)
	t.Cleanup(func() {
		client.Close()
		_ = store.Close()
	})

	proj, err := projection.New(projection.Config{}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proj.Close() })

	backend, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)

	coord := coordinator.New(client, proj,
		coordinator.WithLogger(log),
		coordinator.WithArchive(storage.NewMetadataArchive(backend)),
	)

	handler := NewHandler(coord, verification.New(records, log), backlog, log)
	srv, err := New(&api.HTTPServerConfig{Log: log}, handler, nil)
	require.NoError(t, err)
	return srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func registerBody(id string, tokens uint64) map[string]any {
	return map[string]any{
		"certificateId":  id,
		"totalArea":      1200,
		"numberOfTokens": tokens,
		"metadata":       map[string]any{"location": "X", "plot": 7},
	}
}

func TestHandleRegister_Success(t *testing.T) {
	h := newTestServer(t, nil, nil)

	w := doJSON(t, h, http.MethodPost, "/certificates/register", registerBody("CERT-1", 3))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[api.RegisterResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, interfaces.StateSynced, resp.State)
	assert.False(t, resp.ProjectionStale)
	assert.False(t, resp.TxHash.IsZero())
	require.NotNil(t, resp.Certificate)
	assert.Equal(t, interfaces.CertificateID("CERT-1"), resp.Certificate.CertificateID)
	assert.Equal(t, testSigner, resp.Certificate.MainOwner)
	assert.Equal(t, interfaces.TotalArea("1200"), resp.Certificate.TotalArea)
	assert.Len(t, resp.Certificate.TokenIDs, 3)

	w = doJSON(t, h, http.MethodGet, "/certificates/CERT-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[interfaces.ProjectionRecord](t, w)
	assert.True(t, rec.Matches(resp.Certificate))

	w = doJSON(t, h, http.MethodGet, "/certificates/CERT-1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, interfaces.StateSynced, decode[api.StatusResponse](t, w).State)

	w = doJSON(t, h, http.MethodGet, "/tokens/"+resp.Certificate.TokenIDs[0].String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := decode[interfaces.Token](t, w)
	assert.Equal(t, interfaces.CertificateID("CERT-1"), token.CertificateID)
	assert.Equal(t, testSigner, token.CurrentOwner)
	assert.False(t, token.Burned)

	w = doJSON(t, h, http.MethodGet, "/certificates/CERT-1/metadata", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	doc := decode[map[string]any](t, w)
	assert.Equal(t, "X", doc["location"])
}

func TestHandleRegister_Duplicate(t *testing.T) {
	h := newTestServer(t, nil, nil)

	w := doJSON(t, h, http.MethodPost, "/certificates/register", registerBody("CERT-1", 2))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodPost, "/certificates/register", registerBody("CERT-1", 2))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	resp := decode[api.ErrorResponse](t, w)
	assert.Equal(t, api.CodeAlreadyRegistered, resp.Code)
	require.NotNil(t, resp.SameContent)
	assert.True(t, *resp.SameContent)

	changed := registerBody("CERT-1", 2)
	changed["metadata"] = map[string]any{"location": "Y"}
	w = doJSON(t, h, http.MethodPost, "/certificates/register", changed)
	require.Equal(t, http.StatusConflict, w.Code)
	resp = decode[api.ErrorResponse](t, w)
	require.NotNil(t, resp.SameContent)
	assert.False(t, *resp.SameContent)
}

func TestHandleRegister_InvalidInput(t *testing.T) {
	h := newTestServer(t, nil, nil)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{name: "empty body", body: "", field: "body"},
		{name: "malformed json", body: "{", field: "body"},
		{name: "zero tokens", body: registerBody("CERT-1", 0), field: "numberOfTokens"},
		{name: "blank id", body: registerBody("   ", 1), field: "certificateId"},
		{
			name: "negative area",
			body: map[string]any{
				"certificateId":  "CERT-1",
				"totalArea":      "-5",
				"numberOfTokens": 1,
				"metadata":       map[string]any{"a": 1},
			},
			field: "totalArea",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/certificates/register", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			resp := decode[api.ErrorResponse](t, w)
			assert.Equal(t, api.CodeInvalidInput, resp.Code)
			assert.Equal(t, tt.field, resp.Field)
		})
	}

	w := doJSON(t, h, http.MethodGet, "/certificates/CERT-1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, interfaces.StateUnregistered, decode[api.StatusResponse](t, w).State)
}

func TestHandleGetCertificate_NotFound(t *testing.T) {
	h := newTestServer(t, nil, nil)

	w := doJSON(t, h, http.MethodGet, "/certificates/NOPE", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, api.CodeNotFound, decode[api.ErrorResponse](t, w).Code)

	w = doJSON(t, h, http.MethodGet, "/tokens/99", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodGet, "/tokens/abc", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetCertificate_EscapedID(t *testing.T) {
	h := newTestServer(t, nil, nil)

	w := doJSON(t, h, http.MethodPost, "/certificates/register", registerBody("LOT 7/B", 1))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/certificates/LOT%207%2FB", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, interfaces.CertificateID("LOT 7/B"), decode[interfaces.ProjectionRecord](t, w).CertificateID)
}

func TestHandleGetCertificate_LiteralPercent(t *testing.T) {
	h := newTestServer(t, nil, nil)

	for _, id := range []string{"LOT%41", "LOT%zz", "LOT%41/B"} {
		w := doJSON(t, h, http.MethodPost, "/certificates/register", registerBody(id, 1))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = doJSON(t, h, http.MethodGet, "/certificates/"+url.PathEscape(id), nil)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", id, w.Body.String())
		assert.Equal(t, interfaces.CertificateID(id), decode[interfaces.ProjectionRecord](t, w).CertificateID)

		w = doJSON(t, h, http.MethodGet, "/certificates/"+url.PathEscape(id)+"/status", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, interfaces.StateSynced, decode[api.StatusResponse](t, w).State)
	}

	w := doJSON(t, h, http.MethodGet, "/certificates/LOTA", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleStoreProjection(t *testing.T) {
	h := newTestServer(t, nil, nil)

	w := doJSON(t, h, http.MethodPost, "/certificates/register", registerBody("CERT-1", 1))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/certificates/store-db", map[string]any{
		"certificate_id": "CERT-1",
		"imageUrl":       "https://img.example/1.png",
		"attributes":     map[string]any{"zone": "residential"},
		"surveyor":       "J. Doe",
		"parcels":        4,
		"totalArea":      "999",
		"nested":         map[string]any{"ignored": true},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[api.StoreProjectionResponse](t, w)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Record)
	assert.Equal(t, "https://img.example/1.png", resp.Record.ImageURL)
	assert.Equal(t, map[string]string{"zone": "residential", "surveyor": "J. Doe", "parcels": "4"}, resp.Record.Attributes)
	assert.Equal(t, interfaces.TotalArea("1200"), resp.Record.TotalArea)

	// Presentation-only records exist before any ledger commit.
	w = doJSON(t, h, http.MethodPost, "/certificates/store-db", map[string]any{
		"certificateId": "DRAFT-1",
		"imageUrl":      "https://img.example/draft.png",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[api.StoreProjectionResponse](t, w).Record.HasLedgerState())

	w = doJSON(t, h, http.MethodGet, "/certificates/DRAFT-1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, interfaces.StateUnregistered, decode[api.StatusResponse](t, w).State)
}

func TestHandleStoreProjection_Invalid(t *testing.T) {
	h := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing id", body: map[string]any{"imageUrl": "https://img.example/1.png"}},
		{name: "nothing to store", body: map[string]any{"certificate_id": "CERT-1"}},
		{name: "non-string image", body: map[string]any{"certificate_id": "CERT-1", "imageUrl": 5}},
		{name: "nested attribute", body: map[string]any{"certificate_id": "CERT-1", "attributes": map[string]any{"a": []int{1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/certificates/store-db", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, api.CodeInvalidInput, decode[api.ErrorResponse](t, w).Code)
		})
	}
}

func TestHandleVerify(t *testing.T) {
	records := []verification.Record{
		{"owner": "Alice", "parcel": float64(12), "verified": true},
		{"owner": "Bob", "parcel": float64(13), "verified": false},
	}
	h := newTestServer(t, records, nil)

	w := doJSON(t, h, http.MethodPost, "/certificates/verify", map[string]any{"owner": "Alice", "parcel": 12})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[api.VerifyResponse](t, w)
	assert.True(t, resp.Verified)
	assert.Equal(t, "Alice", resp.MatchedRecord["owner"])

	w = doJSON(t, h, http.MethodPost, "/certificates/verify", map[string]any{"owner": "Bob"})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[api.VerifyResponse](t, w)
	assert.False(t, resp.Verified)
	assert.Nil(t, resp.MatchedRecord)

	w = doJSON(t, h, http.MethodPost, "/certificates/verify", map[string]any{"parcel": "12"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[api.VerifyResponse](t, w).Verified)

	w = doJSON(t, h, http.MethodPost, "/certificates/verify", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleListAndResync(t *testing.T) {
	h := newTestServer(t, nil, nil)

	for i := 1; i <= 3; i++ {
		w := doJSON(t, h, http.MethodPost, "/certificates/register", registerBody(fmt.Sprintf("CERT-%d", i), 1))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/certificates?offset=1&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[api.ListCertificatesResponse](t, w)
	require.Len(t, list.Certificates, 2)
	assert.Equal(t, interfaces.CertificateID("CERT-2"), list.Certificates[0].CertificateID)

	w = doJSON(t, h, http.MethodPost, "/certificates/store-db", map[string]any{
		"certificateId": "CERT-0-DRAFT",
		"imageUrl":      "https://img.example/draft.png",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/certificates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list = decode[api.ListCertificatesResponse](t, w)
	require.Len(t, list.Certificates, 3)
	for _, rec := range list.Certificates {
		assert.NotEqual(t, interfaces.CertificateID("CERT-0-DRAFT"), rec.CertificateID)
		assert.False(t, rec.MainOwner.IsZero())
	}

	w = doJSON(t, h, http.MethodGet, "/certificates?limit=x", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/certificates/CERT-2/resync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resynced := decode[interfaces.ProjectionRecord](t, w)
	assert.True(t, resynced.HasLedgerState())

	w = doJSON(t, h, http.MethodPost, "/certificates/UNKNOWN/resync", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleBacklog(t *testing.T) {
	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := newTestServer(t, nil, staticBacklog{{CertificateID: "CERT-9", Attempts: 2, NextAttempt: next, LastError: "db down"}})

	w := doJSON(t, h, http.MethodGet, "/sync/backlog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[api.BacklogResponse](t, w)
	require.Len(t, resp.Pending, 1)
	assert.Equal(t, interfaces.CertificateID("CERT-9"), resp.Pending[0].CertificateID)
	assert.True(t, next.Equal(resp.Pending[0].NextAttempt))

	h = newTestServer(t, nil, nil)
	w = doJSON(t, h, http.MethodGet, "/sync/backlog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pending":[]}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	txHash := interfaces.TxHash{0xab}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"already registered", &interfaces.AlreadyRegisteredError{CertificateID: "C"}, http.StatusConflict, api.CodeAlreadyRegistered},
		{"invalid hash", &interfaces.ValidationError{Field: "certificateHash", Reason: "x", Err: interfaces.ErrInvalidHash}, http.StatusBadRequest, api.CodeInvalidHash},
		{"invalid input", interfaces.NewValidationError("totalArea", "x"), http.StatusBadRequest, api.CodeInvalidInput},
		{"not found", fmt.Errorf("lookup: %w", interfaces.ErrNotFound), http.StatusNotFound, api.CodeNotFound},
		{"unknown outcome", &interfaces.TransactionError{TxHash: txHash, Err: interfaces.ErrUnknownOutcome}, http.StatusGatewayTimeout, api.CodeUnknownOutcome},
		{"reverted", &interfaces.TransactionError{TxHash: txHash, Reason: "reverted"}, http.StatusBadGateway, api.CodeTransactionFailed},
		{"not ready", interfaces.ErrLedgerNotReady, http.StatusServiceUnavailable, api.CodeLedgerNotReady},
		{"query", fmt.Errorf("%w: dial tcp", interfaces.ErrQuery), http.StatusBadGateway, api.CodeQueryFailed},
		{"internal", errors.New("boom"), http.StatusInternalServerError, api.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	_, resp := statusFor(&interfaces.TransactionError{TxHash: txHash, Err: interfaces.ErrUnknownOutcome})
	assert.Equal(t, txHash.String(), resp.TxHash)

	_, resp = statusFor(errors.New("secret dsn in message"))
	assert.Equal(t, "internal server error", resp.Error)
}

func TestHealthEndpoints(t *testing.T) {
	log := testLogger()
	store, err := ledger.New(ledger.WithLogger(log))
	require.NoError(t, err)
	client := registry.NewLocalLedgerClient(store, registry.LocalClientConfig{Signer: testSigner}, log)
	defer func() {
		client.Close()
		_ = store.Close()
	}()
	proj, err := projection.New(projection.Config{}, log)
	require.NoError(t, err)
	defer proj.Close()

	coord := coordinator.New(client, proj, coordinator.WithLogger(log))
	srv, err := New(&api.HTTPServerConfig{Log: log}, NewHandler(coord, nil, nil, log), nil)
	require.NoError(t, err)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/drain", nil)
	assert.JSONEq(t, `{"status":"draining"}`, w.Body.String())
	w = doJSON(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, h, http.MethodGet, "/undrain", nil)
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
	w = doJSON(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyz_LedgerNotReady(t *testing.T) {
	log := testLogger()
	reg := &notReadyRegistry{}
	srv, err := New(&api.HTTPServerConfig{Log: log}, NewHandler(reg, nil, nil, log), nil)
	require.NoError(t, err)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodPost, "/certificates/register", registerBody("CERT-1", 1))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, api.CodeLedgerNotReady, decode[api.ErrorResponse](t, w).Code)
}

// notReadyRegistry fails every call with ErrLedgerNotReady.
type notReadyRegistry struct{ Registry }

func (notReadyRegistry) Ready(context.Context) error { return interfaces.ErrLedgerNotReady }

func (notReadyRegistry) Register(context.Context, *interfaces.RegistrationRequest) (*interfaces.RegistrationResult, error) {
	return nil, interfaces.ErrLedgerNotReady
}
