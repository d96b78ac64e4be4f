package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateCertificate is returned when a certificate id is already present on the ledger.
	ErrDuplicateCertificate = errors.New("certificate already registered")

	// ErrNotFound is returned when a certificate, token or projection record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTransactionFailed is returned when a ledger transaction was rejected or its
	// outcome could not be confirmed.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrUnknownOutcome qualifies ErrTransactionFailed when finality could not be observed
	// in time. The write may or may not have happened.
	ErrUnknownOutcome = errors.New("transaction outcome unknown")

	// ErrInvalidInput is returned for requests rejected before any ledger interaction.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidHash is returned when a hash cannot be normalized to 32 bytes.
	ErrInvalidHash = errors.New("invalid certificate hash")

	// ErrQuery is returned when a ledger read fails in transport.
	ErrQuery = errors.New("ledger query failed")

	// ErrProjectionSyncFailed marks a projection write that failed after the ledger commit.
	ErrProjectionSyncFailed = errors.New("projection sync failed")

	// ErrTokenBurned is returned by any attempt to change the owner of a burned token.
	ErrTokenBurned = errors.New("token is burned")

	// ErrLedgerNotReady is returned when the ledger client failed to initialize.
	ErrLedgerNotReady = errors.New("ledger client not ready")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field  string
	Reason string

	// Err optionally narrows the failure, e.g. ErrInvalidHash.
	Err error
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidInput}
	}
	return []error{ErrInvalidInput, e.Err}
}

// TransactionError carries the ledger's view of a failed transaction.
// It matches ErrTransactionFailed and, when set, Err (ErrDuplicateCertificate,
// ErrUnknownOutcome, ...).
type TransactionError struct {
	TxHash TxHash
	Reason string
	Err    error
}

func (e *TransactionError) Error() string {
	msg := "transaction failed"
	if !e.TxHash.IsZero() {
		msg += " (" + e.TxHash.String() + ")"
	}
	if e.Unknown() {
		msg += ": outcome unknown"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unknown reports whether the ledger outcome was not observed.
// Callers must not assume the write did not happen.
func (e *TransactionError) Unknown() bool {
	return errors.Is(e.Err, ErrUnknownOutcome)
}

func (e *TransactionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransactionFailed}
	}
	return []error{ErrTransactionFailed, e.Err}
}

// AlreadyRegisteredError is the caller-facing outcome of registering an existing certificate.
type AlreadyRegisteredError struct {
	CertificateID CertificateID

	// SameContent is true when every stored field equals the submitted one,
	// i.e. an earlier identical submission did land.
	SameContent bool
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("certificate %s is already registered on the ledger", e.CertificateID)
}

func (e *AlreadyRegisteredError) Unwrap() error {
	return ErrDuplicateCertificate
}
