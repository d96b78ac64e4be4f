package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/landsure/landsure-registry/api"
	"github.com/landsure/landsure-registry/interfaces"
	"github.com/stretchr/testify/mock"
)

// maxErrorBody bounds how much of a non-JSON error body is kept.
const maxErrorBody = 4096

// APIError is a non-2xx response. It unwraps to the interfaces sentinel that
// matches its code, so callers can use errors.Is on client errors.
type APIError struct {
	StatusCode int
	Response   api.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.Error == "" {
		return fmt.Sprintf("registry returned %d", e.StatusCode)
	}
	return fmt.Sprintf("registry returned %d (%s): %s", e.StatusCode, e.Response.Code, e.Response.Error)
}

func (e *APIError) Unwrap() []error {
	switch e.Response.Code {
	case api.CodeAlreadyRegistered:
		return []error{interfaces.ErrDuplicateCertificate}
	case api.CodeInvalidInput:
		return []error{interfaces.ErrInvalidInput}
	case api.CodeInvalidHash:
		return []error{interfaces.ErrInvalidInput, interfaces.ErrInvalidHash}
	case api.CodeNotFound:
		return []error{interfaces.ErrNotFound}
	case api.CodeUnknownOutcome:
		return []error{interfaces.ErrTransactionFailed, interfaces.ErrUnknownOutcome}
	case api.CodeTransactionFailed:
		return []error{interfaces.ErrTransactionFailed}
	case api.CodeLedgerNotReady:
		return []error{interfaces.ErrLedgerNotReady}
	case api.CodeQueryFailed:
		return []error{interfaces.ErrQuery}
	}
	return nil
}

// RegistryClient implements api.RegistryProvider over HTTP.
type RegistryClient struct {
	// ServerAddr is the base URL of the registry server
	ServerAddr string

	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

func NewRegistryClient(serverAddr string) *RegistryClient {
	return &RegistryClient{ServerAddr: serverAddr}
}

func (c *RegistryClient) Register(ctx context.Context, req *interfaces.RegistrationRequest) (*api.RegisterResponse, error) {
	var resp api.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/certificates/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RegistryClient) GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error) {
	var rec interfaces.ProjectionRecord
	if err := c.do(ctx, http.MethodGet, "/certificates/"+url.PathEscape(id.String()), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *RegistryClient) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	var token interfaces.Token
	if err := c.do(ctx, http.MethodGet, "/tokens/"+id.String(), nil, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (c *RegistryClient) Status(ctx context.Context, id interfaces.CertificateID) (*api.StatusResponse, error) {
	var status api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/certificates/"+url.PathEscape(id.String())+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *RegistryClient) Resync(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error) {
	var rec interfaces.ProjectionRecord
	if err := c.do(ctx, http.MethodPost, "/certificates/"+url.PathEscape(id.String())+"/resync", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *RegistryClient) StoreProjection(ctx context.Context, req *api.StoreProjectionRequest) (*interfaces.ProjectionRecord, error) {
	var resp api.StoreProjectionResponse
	if err := c.do(ctx, http.MethodPost, "/certificates/store-db", req, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

func (c *RegistryClient) Verify(ctx context.Context, candidate map[string]any) (*api.VerifyResponse, error) {
	var resp api.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/certificates/verify", candidate, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RegistryClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if jsonErr := json.Unmarshal(raw, &apiErr.Response); jsonErr != nil || apiErr.Response.Code == "" {
		apiErr.Response = api.ErrorResponse{Code: api.CodeInternal, Error: string(bytes.TrimSpace(raw))}
	}
	return apiErr
}

// IsAlreadyRegistered reports whether err is a duplicate registration and
// whether the stored certificate carries the same metadata hash.
func IsAlreadyRegistered(err error) (sameContent bool, ok bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Response.Code != api.CodeAlreadyRegistered {
		return false, false
	}
	return apiErr.Response.SameContent != nil && *apiErr.Response.SameContent, true
}

// MockRegistryProvider implements a mock api.RegistryProvider for testing.
type MockRegistryProvider struct {
	mock.Mock
}

func (m *MockRegistryProvider) Register(ctx context.Context, req *interfaces.RegistrationRequest) (*api.RegisterResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.RegisterResponse), args.Error(1)
}

func (m *MockRegistryProvider) GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ProjectionRecord), args.Error(1)
}

func (m *MockRegistryProvider) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Token), args.Error(1)
}

func (m *MockRegistryProvider) Status(ctx context.Context, id interfaces.CertificateID) (*api.StatusResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.StatusResponse), args.Error(1)
}

func (m *MockRegistryProvider) Resync(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ProjectionRecord), args.Error(1)
}

func (m *MockRegistryProvider) StoreProjection(ctx context.Context, req *api.StoreProjectionRequest) (*interfaces.ProjectionRecord, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.ProjectionRecord), args.Error(1)
}

func (m *MockRegistryProvider) Verify(ctx context.Context, candidate map[string]any) (*api.VerifyResponse, error) {
	args := m.Called(ctx, candidate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.VerifyResponse), args.Error(1)
}

var (
	_ api.RegistryProvider = (*RegistryClient)(nil)
	_ api.RegistryProvider = (*MockRegistryProvider)(nil)
)
