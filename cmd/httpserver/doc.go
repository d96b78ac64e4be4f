// Package main (cmd/httpserver) runs the LandSure registry server.
//
// The server registers land certificates on a ledger, mints their fractional
// tokens and mirrors every committed certificate into a projection database
// for fast reads. A background reconciler retries projection writes that
// failed after a ledger commit and periodically resyncs the whole ledger.
//
// Two ledger modes are supported:
//
//   - local: an embedded badger ledger with a single in-process sequencer.
//     Suitable for development and tests.
//
//   - onchain: the LandSure contract on an EVM chain, reached over JSON-RPC.
//     Registrations are signed with the configured private key.
//
// Configuration is read from an optional YAML file (--config), then LANDSURE_*
// environment variables, then command line flags.
//
// Example usage with the embedded ledger:
//
//	landsure-registry --data-dir=/var/lib/landsure/ledger \
//	    --projection-dsn=/var/lib/landsure/projection \
//	    --archive=file:///var/lib/landsure/metadata
//
// Example usage against a chain:
//
//	LANDSURE_LEDGER_PRIVATE_KEY=... landsure-registry --ledger-mode=onchain \
//	    --rpc-addr=http://localhost:8545 \
//	    --contract-addr=0x5FbDB2315678afecb367f032d93F642f64180aa3 \
//	    --projection-driver=postgres --projection-dsn=postgres://landsure@db/landsure
package main
