// Package coordinator runs the dual write between the ledger and the projection.
//
// The ledger is the source of truth. A registration is submitted, awaited to
// finality, re-read from the ledger and only then copied into the projection.
// A projection failure after a ledger commit never fails the registration: the
// result is flagged stale and the certificate is handed to the sync queue,
// which later calls Resync until the projection matches the ledger again.
//
// Per certificate the coordinator moves through
//
//	unregistered -> pending -> committed-unsynced -> synced
//	pending -> rejected-duplicate
//
// and a committed certificate is never rolled back.
package coordinator
