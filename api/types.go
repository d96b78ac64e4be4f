package api

import (
	"context"

	"github.com/landsure/landsure-registry/interfaces"
	"github.com/landsure/landsure-registry/syncer"
)

// Error codes carried by ErrorResponse.Code.
const (
	CodeAlreadyRegistered = "already_registered"
	CodeInvalidInput      = "invalid_input"
	CodeInvalidHash       = "invalid_hash"
	CodeNotFound          = "not_found"
	CodeUnknownOutcome    = "unknown_outcome"
	CodeTransactionFailed = "transaction_failed"
	CodeLedgerNotReady    = "ledger_not_ready"
	CodeQueryFailed       = "query_failed"
	CodeInternal          = "internal"
)

// RegistryProvider is the client view of the registry HTTP API.
type RegistryProvider interface {
	Register(ctx context.Context, req *interfaces.RegistrationRequest) (*RegisterResponse, error)
	GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error)
	GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error)
	Status(ctx context.Context, id interfaces.CertificateID) (*StatusResponse, error)
	Resync(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error)
	StoreProjection(ctx context.Context, req *StoreProjectionRequest) (*interfaces.ProjectionRecord, error)
	Verify(ctx context.Context, candidate map[string]any) (*VerifyResponse, error)
}

// RegisterResponse is returned for every committed registration, including
// those whose projection write has to be retried.
type RegisterResponse struct {
	Success         bool                    `json:"success"`
	Certificate     *interfaces.Certificate `json:"certificate"`
	TxHash          interfaces.TxHash       `json:"txHash"`
	BlockNumber     uint64                  `json:"blockNumber"`
	State           interfaces.SyncState    `json:"state"`
	ProjectionStale bool                    `json:"projectionStale"`
}

// StoreProjectionRequest attaches presentation fields to a certificate.
type StoreProjectionRequest struct {
	CertificateID string            `json:"certificate_id"`
	ImageURL      string            `json:"imageUrl"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

type StoreProjectionResponse struct {
	Success bool                         `json:"success"`
	Record  *interfaces.ProjectionRecord `json:"record"`
}

type StatusResponse struct {
	CertificateID interfaces.CertificateID `json:"certificateId"`
	State         interfaces.SyncState     `json:"state"`
}

type VerifyResponse struct {
	Verified      bool           `json:"verified"`
	MatchedRecord map[string]any `json:"matchedRecord,omitempty"`
}

type ListCertificatesResponse struct {
	Certificates []interfaces.ProjectionRecord `json:"certificates"`
	Offset       int                           `json:"offset"`
	Limit        int                           `json:"limit"`
}

type BacklogResponse struct {
	Pending []syncer.Entry `json:"pending"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`

	Field       string `json:"field,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
	SameContent *bool  `json:"sameContent,omitempty"`
}
