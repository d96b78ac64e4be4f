// Package main (cmd/registry_client) is a command line client for the LandSure
// registry API.
//
// Commands:
//
//	register  - register a certificate; metadata is read from a JSON file
//	get       - print the projection record of a certificate
//	token     - print a token
//	status    - print the sync state of a certificate
//	resync    - rewrite the projection of a certificate from the ledger
//	store     - attach an image URL and attributes to a certificate
//	verify    - match key=value fields against the server's reference set
//
// A duplicate registration exits with an error that states whether the stored
// certificate carries the same metadata. A finality timeout is reported as an
// unknown outcome: query status before retrying.
package main
