package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/landsure/landsure-registry/api"
	"github.com/landsure/landsure-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStubServer(t *testing.T, status int, body any) (*RegistryClient, *http.Request) {
	t.Helper()
	var captured http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		switch b := body.(type) {
		case string:
			w.Write([]byte(b))
		default:
			json.NewEncoder(w).Encode(b)
		}
	}))
	t.Cleanup(srv.Close)
	return &RegistryClient{ServerAddr: srv.URL, HTTPClient: srv.Client()}, &captured
}

func TestRegistryClient_Register(t *testing.T) {
	want := api.RegisterResponse{
		Success:     true,
		Certificate: &interfaces.Certificate{CertificateID: "CERT-1", TotalArea: "1200", NumberOfTokens: 2, TokenIDs: []interfaces.TokenID{1, 2}},
		TxHash:      interfaces.TxHash{0x01},
		BlockNumber: 7,
		State:       interfaces.StateSynced,
	}
	client, req := newStubServer(t, http.StatusOK, want)

	got, err := client.Register(context.Background(), &interfaces.RegistrationRequest{CertificateID: "CERT-1", TotalArea: "1200", NumberOfTokens: 2})
	require.NoError(t, err)
	assert.Equal(t, &want, got)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/certificates/register", req.URL.Path)
}

func TestRegistryClient_EscapesCertificateID(t *testing.T) {
	client, req := newStubServer(t, http.StatusOK, api.StatusResponse{CertificateID: "LOT 7/B", State: interfaces.StateSynced})

	status, err := client.Status(context.Background(), "LOT 7/B")
	require.NoError(t, err)
	assert.Equal(t, interfaces.StateSynced, status.State)
	assert.Equal(t, "/certificates/LOT%207%2FB/status", req.URL.EscapedPath())
}

func TestRegistryClient_Errors(t *testing.T) {
	sameContent := true

	tests := []struct {
		name     string
		status   int
		body     any
		sentinel error
	}{
		{"duplicate", http.StatusConflict, api.ErrorResponse{Code: api.CodeAlreadyRegistered, Error: "taken", SameContent: &sameContent}, interfaces.ErrDuplicateCertificate},
		{"invalid", http.StatusBadRequest, api.ErrorResponse{Code: api.CodeInvalidInput, Field: "totalArea"}, interfaces.ErrInvalidInput},
		{"invalid hash", http.StatusBadRequest, api.ErrorResponse{Code: api.CodeInvalidHash}, interfaces.ErrInvalidHash},
		{"not found", http.StatusNotFound, api.ErrorResponse{Code: api.CodeNotFound}, interfaces.ErrNotFound},
		{"unknown outcome", http.StatusGatewayTimeout, api.ErrorResponse{Code: api.CodeUnknownOutcome}, interfaces.ErrUnknownOutcome},
		{"tx failed", http.StatusBadGateway, api.ErrorResponse{Code: api.CodeTransactionFailed}, interfaces.ErrTransactionFailed},
		{"not ready", http.StatusServiceUnavailable, api.ErrorResponse{Code: api.CodeLedgerNotReady}, interfaces.ErrLedgerNotReady},
		{"query", http.StatusBadGateway, api.ErrorResponse{Code: api.CodeQueryFailed}, interfaces.ErrQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newStubServer(t, tt.status, tt.body)
			_, err := client.GetCertificate(context.Background(), "CERT-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}

	client, _ := newStubServer(t, http.StatusConflict, api.ErrorResponse{Code: api.CodeAlreadyRegistered, SameContent: &sameContent})
	_, err := client.Register(context.Background(), &interfaces.RegistrationRequest{CertificateID: "CERT-1"})
	same, ok := IsAlreadyRegistered(err)
	assert.True(t, ok)
	assert.True(t, same)
}

func TestRegistryClient_NonJSONError(t *testing.T) {
	client, _ := newStubServer(t, http.StatusBadGateway, "upstream unavailable\n")

	_, err := client.GetToken(context.Background(), 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, api.CodeInternal, apiErr.Response.Code)
	assert.Equal(t, "upstream unavailable", apiErr.Response.Error)
	assert.Contains(t, err.Error(), "502")
}
