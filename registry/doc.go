// Package registry adapts ledgers to the interfaces.LedgerClient contract.
//
// Two clients are provided:
//
//   - LocalLedgerClient sequences submissions into an embedded ledger.Store.
//   - OnchainLedgerClient talks to a LandSure contract through go-ethereum
//     bindings, waiting for receipts to observe finality.
//
// Both expose an explicit readiness Gate that every operation waits on, so a
// request arriving while the client is still connecting blocks until the
// client is usable instead of failing or racing the initialization.
//
// Submit returns as soon as the ledger accepted the operation. AwaitFinality
// then reports one of:
//
//   - a CommitReceipt,
//   - a TransactionError carrying the ledger's revert reason, also matching
//     interfaces.ErrDuplicateCertificate when the id already exists,
//   - a TransactionError matching interfaces.ErrUnknownOutcome when finality
//     was not observed within the configured timeout. The write may still land.
package registry
