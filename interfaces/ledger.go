package interfaces

import (
	"context"
	"fmt"
)

// Certificate is the ledger record of one land parcel.
type Certificate struct {
	CertificateID   CertificateID   `json:"certificateId"`
	MainOwner       Address         `json:"mainOwner"`
	TotalArea       TotalArea       `json:"totalArea"`
	NumberOfTokens  uint64          `json:"numberOfTokens"`
	CertificateHash CertificateHash `json:"certificateHash"`
	TokenIDs        []TokenID       `json:"tokenIds"`
}

// Token is one fractional unit minted against a certificate.
type Token struct {
	TokenID       TokenID       `json:"tokenId"`
	CertificateID CertificateID `json:"certificateId"`
	CurrentOwner  Address       `json:"currentOwner"`
	Burned        bool          `json:"burned"`
}

// CanChangeOwner is the guard any future ownership change has to pass.
func (t *Token) CanChangeOwner() error {
	if t.Burned {
		return fmt.Errorf("%w: %s", ErrTokenBurned, t.TokenID)
	}
	return nil
}

// RegisterOp is the state-changing ledger call that creates a certificate and mints its tokens.
type RegisterOp struct {
	CertificateID   CertificateID
	MainOwner       Address
	TotalArea       TotalArea
	NumberOfTokens  uint64
	CertificateHash CertificateHash
}

// SameAs reports whether stored is the certificate op would have created.
func (op *RegisterOp) SameAs(stored *Certificate) bool {
	return stored != nil &&
		stored.CertificateID == op.CertificateID &&
		stored.MainOwner == op.MainOwner &&
		stored.TotalArea == op.TotalArea &&
		stored.NumberOfTokens == op.NumberOfTokens &&
		stored.CertificateHash == op.CertificateHash
}

// Validate checks the operation before it is submitted to a ledger.
func (op *RegisterOp) Validate(maxTokens uint64) error {
	if _, err := NewCertificateID(string(op.CertificateID)); err != nil {
		return err
	}
	if op.MainOwner.IsZero() {
		return NewValidationError("mainOwner", "must not be the zero address")
	}
	if _, err := NewTotalArea(string(op.TotalArea)); err != nil {
		return err
	}
	if op.NumberOfTokens == 0 {
		return NewValidationError("numberOfTokens", "must be at least 1")
	}
	if maxTokens > 0 && op.NumberOfTokens > maxTokens {
		return NewValidationError("numberOfTokens", fmt.Sprintf("must not exceed %d", maxTokens))
	}
	if op.CertificateHash.IsZero() {
		return &ValidationError{Field: "certificateHash", Reason: "must not be zero", Err: ErrInvalidHash}
	}
	return nil
}

// CommitReceipt confirms a final ledger transaction. TokenIDs may be empty when
// the ledger does not report minted ids with the receipt.
type CommitReceipt struct {
	TxHash        TxHash        `json:"txHash"`
	BlockNumber   uint64        `json:"blockNumber"`
	CertificateID CertificateID `json:"certificateId"`
	TokenIDs      []TokenID     `json:"tokenIds"`
}

// PendingTx is a submitted transaction whose finality has not been observed yet.
type PendingTx interface {
	Hash() TxHash
	CertificateID() CertificateID
}

// LedgerReader serves reads against confirmed ledger state.
type LedgerReader interface {
	// GetCertificate returns ErrNotFound for unknown ids or a zero owner.
	GetCertificate(ctx context.Context, id CertificateID) (*Certificate, error)

	// GetToken returns ErrNotFound for unknown token ids.
	GetToken(ctx context.Context, id TokenID) (*Token, error)

	// CertificateIDs returns up to limit ids strictly greater than after, in ascending order.
	CertificateIDs(ctx context.Context, after CertificateID, limit int) ([]CertificateID, error)
}

// LedgerClient bridges domain calls to a ledger's transaction and query model.
type LedgerClient interface {
	LedgerReader

	// Ready blocks until the client finished initializing.
	Ready(ctx context.Context) error

	// Signer is the identity transactions are sent from.
	Signer() Address

	// Submit issues the operation without waiting for finality.
	Submit(ctx context.Context, op *RegisterOp) (PendingTx, error)

	// AwaitFinality waits, bounded by the client's finality timeout, for the outcome.
	AwaitFinality(ctx context.Context, tx PendingTx) (*CommitReceipt, error)
}
