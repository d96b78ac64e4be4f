/*
Package api holds the wire types of the LandSure registry HTTP API and the
server configuration shared by the binaries.

Routes (see httpserver):

	POST /certificates/register                 register a certificate and mint its tokens
	GET  /certificates                          page projection records
	GET  /certificates/{certificate_id}         projection record, ledger fallback
	GET  /certificates/{certificate_id}/status  sync state
	GET  /certificates/{certificate_id}/metadata archived metadata document
	POST /certificates/{certificate_id}/resync  rewrite the projection from the ledger
	POST /certificates/store-db                 attach presentation fields
	POST /certificates/verify                   match against the reference set
	GET  /tokens/{token_id}                     token lookup
	GET  /sync/backlog                          pending projection retries

Errors are returned as ErrorResponse with a stable Code. A duplicate
registration is always 409 with code already_registered; a finality timeout is
504 with code unknown_outcome and must not be read as success.

The clients subpackage implements RegistryProvider over HTTP.
*/
package api
