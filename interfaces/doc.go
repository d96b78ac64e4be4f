// Package interfaces defines the domain types, error sentinels and component
// interfaces of the LandSure registry, separating definitions from
// implementations.
//
// # Ledger
//
// LedgerClient bridges domain calls to a ledger: Submit issues a RegisterOp,
// AwaitFinality waits for its CommitReceipt, and the LedgerReader methods serve
// confirmed state. The ledger is authoritative for certificates and tokens.
//
// # Projection
//
// ProjectionStore is a denormalized read mirror keyed by CertificateID. It may
// lag the ledger; SyncQueue receives certificates whose projection write failed.
//
// # Storage
//
// StorageBackend is content-addressed storage for canonical metadata
// documents. The ContentID of a document equals its CertificateHash.
//
// # Errors
//
// Callers classify failures with errors.Is against the sentinels in errors.go.
// AlreadyRegisteredError, ValidationError and TransactionError carry details
// and unwrap to those sentinels.
package interfaces
