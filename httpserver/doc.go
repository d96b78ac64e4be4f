/*
Package httpserver serves the LandSure registry HTTP API.

Handler adapts the coordinator, the verifier and the reconciler backlog to
HTTP. Server wraps it in a chi router with request logging, health endpoints
and a separate Prometheus metrics listener.

# Registry API Endpoints

  - POST /certificates/register - Register a certificate and mint its tokens
  - GET /certificates - Page projection records
  - GET /certificates/{certificate_id} - Projection record with ledger fallback
  - GET /certificates/{certificate_id}/status - Sync state
  - GET /certificates/{certificate_id}/metadata - Archived metadata document
  - POST /certificates/{certificate_id}/resync - Rewrite the projection from the ledger
  - POST /certificates/store-db - Attach presentation fields
  - POST /certificates/verify - Match against the reference set
  - GET /tokens/{token_id} - Token lookup
  - GET /sync/backlog - Pending projection retries

# Health Endpoints

  - GET /livez - Liveness check
  - GET /readyz - Ready when not drained and the ledger client initialized
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready

# Errors

Every error body is an api.ErrorResponse. Status codes:

	409  already_registered   certificate id exists on the ledger
	400  invalid_input        rejected before any ledger interaction
	400  invalid_hash         hash not normalizable to 32 bytes
	404  not_found
	504  unknown_outcome      finality not observed; the write may have landed
	502  transaction_failed   ledger rejected the transaction
	502  query_failed         ledger read failed in transport
	503  ledger_not_ready
	500  internal             message withheld, details are logged

# Example Usage

	handler := httpserver.NewHandler(coord, verifier, reconciler, logger)
	server, err := httpserver.New(cfg, handler, metricsSrv)
	if err != nil {
		return err
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
