// Package storage archives certificate metadata documents in content-addressed
// backends.
//
// A document is stored under the Keccak-256 hash of its canonical JSON
// encoding, which is the certificateHash recorded on the ledger. Anyone holding
// a certificate can therefore fetch the metadata it commits to and check it
// against the ledger value.
//
// # Storage URI Format
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/landsure/metadata/
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://ipfs.example.com:5001/?timeout=30s
//   - vault://token@vault.example.com:8200/secret/landsure
//
// Several backends can be combined with StorageBackendFactory.CreateMultiBackend.
// Stores go to every available backend and fetches return the first hit.
package storage
