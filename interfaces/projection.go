package interfaces

import (
	"context"
	"slices"
	"time"
)

// ProjectionRecord is the denormalized, non-authoritative copy of one certificate.
type ProjectionRecord struct {
	CertificateID   CertificateID     `json:"certificateId"`
	MainOwner       Address           `json:"mainOwner"`
	TotalArea       TotalArea         `json:"totalArea"`
	NumberOfTokens  uint64            `json:"numberOfTokens"`
	CertificateHash CertificateHash   `json:"certificateHash"`
	TokenIDs        []TokenID         `json:"tokenIds"`
	ImageURL        string            `json:"imageUrl,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`

	// SyncedAt is nil while the record only carries presentation fields.
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// HasLedgerState reports whether ledger-derived fields were ever synced.
func (r *ProjectionRecord) HasLedgerState() bool {
	return r.SyncedAt != nil
}

// Matches reports whether the ledger-derived fields equal the certificate.
func (r *ProjectionRecord) Matches(c *Certificate) bool {
	return r.HasLedgerState() &&
		r.CertificateID == c.CertificateID &&
		r.MainOwner == c.MainOwner &&
		r.TotalArea == c.TotalArea &&
		r.NumberOfTokens == c.NumberOfTokens &&
		r.CertificateHash == c.CertificateHash &&
		slices.Equal(r.TokenIDs, c.TokenIDs)
}

// Certificate returns the ledger-derived view of the record.
func (r *ProjectionRecord) Certificate() *Certificate {
	return &Certificate{
		CertificateID:   r.CertificateID,
		MainOwner:       r.MainOwner,
		TotalArea:       r.TotalArea,
		NumberOfTokens:  r.NumberOfTokens,
		CertificateHash: r.CertificateHash,
		TokenIDs:        slices.Clone(r.TokenIDs),
	}
}

// PresentationFields are projection-only enrichments that never reach the ledger.
type PresentationFields struct {
	ImageURL   string            `json:"imageUrl,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (p *PresentationFields) IsEmpty() bool {
	return p == nil || (p.ImageURL == "" && len(p.Attributes) == 0)
}

// ProjectionFields is the input of an upsert. Nil/empty parts are left untouched.
type ProjectionFields struct {
	// Certificate overwrites the ledger-derived columns.
	Certificate *Certificate

	// Tokens are upserted by token id.
	Tokens []Token

	// Presentation is merged: a non-empty image URL replaces the stored one and
	// attributes are merged key by key.
	Presentation *PresentationFields
}

// ProjectionStore is the low-latency read mirror of ledger state.
type ProjectionStore interface {
	// Upsert creates or merges the record; repeating identical input is a no-op.
	Upsert(ctx context.Context, id CertificateID, fields ProjectionFields) (*ProjectionRecord, error)

	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, id CertificateID) (*ProjectionRecord, error)

	// GetToken returns ErrNotFound when no token row exists.
	GetToken(ctx context.Context, id TokenID) (*Token, error)

	// List pages records ordered by certificate id.
	List(ctx context.Context, offset, limit int) ([]ProjectionRecord, error)
}

// SyncState is the coordinator's view of one certificate.
type SyncState string

const (
	StateUnregistered      SyncState = "unregistered"
	StatePending           SyncState = "pending"
	StateCommittedUnsynced SyncState = "committed-unsynced"
	StateSynced            SyncState = "synced"
	StateRejectedDuplicate SyncState = "rejected-duplicate"
)

// SyncQueue records projection writes that have to be retried.
type SyncQueue interface {
	Enqueue(id CertificateID, cause error)
}

// RegistrationRequest is the validated-at-the-boundary registration payload.
type RegistrationRequest struct {
	CertificateID  string         `json:"certificateId"`
	MainOwner      string         `json:"mainOwner,omitempty"`
	TotalArea      TotalArea      `json:"totalArea"`
	NumberOfTokens uint64         `json:"numberOfTokens"`
	Metadata       map[string]any `json:"metadata"`
}

// RegistrationResult is returned for every committed registration.
type RegistrationResult struct {
	Certificate *Certificate   `json:"certificate"`
	Receipt     *CommitReceipt `json:"receipt"`
	State       SyncState      `json:"state"`

	// ProjectionStale is set when the ledger commit succeeded but the projection
	// write did not; the certificate is queued for catch-up.
	ProjectionStale bool `json:"projectionStale"`
}
