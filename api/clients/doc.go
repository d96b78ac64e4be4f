/*
Package clients provides an HTTP client for the LandSure registry API.

RegistryClient implements api.RegistryProvider. Error responses are returned
as *APIError, which unwraps to the matching interfaces sentinel:

	resp, err := clients.NewRegistryClient("http://127.0.0.1:8080").Register(ctx, req)
	if errors.Is(err, interfaces.ErrDuplicateCertificate) {
	    // already registered; see IsAlreadyRegistered for the content check
	}
	if errors.Is(err, interfaces.ErrUnknownOutcome) {
	    // the ledger may or may not have committed; query Status before retrying
	}
*/
package clients
