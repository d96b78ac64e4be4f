package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/landsure/landsure-registry/api"
	"github.com/landsure/landsure-registry/interfaces"
	"github.com/landsure/landsure-registry/syncer"
	"github.com/landsure/landsure-registry/verification"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Registry is the coordinator surface the handler serves.
type Registry interface {
	Register(ctx context.Context, req *interfaces.RegistrationRequest) (*interfaces.RegistrationResult, error)
	GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error)
	GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error)
	Status(ctx context.Context, id interfaces.CertificateID) (interfaces.SyncState, error)
	Resync(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error)
	StoreProjectionOnly(ctx context.Context, rawID string, presentation interfaces.PresentationFields) (*interfaces.ProjectionRecord, error)
	MetadataDocument(ctx context.Context, id interfaces.CertificateID) (map[string]any, error)
	ListCertificates(ctx context.Context, offset, limit int) ([]interfaces.ProjectionRecord, error)
	Ready(ctx context.Context) error
}

type Verifier interface {
	Verify(candidate map[string]any) (*verification.Result, error)
}

// Backlog exposes the reconciler's pending retries.
type Backlog interface {
	Pending() []syncer.Entry
}

// Handler processes HTTP requests for the certificate registry.
type Handler struct {
	registry Registry
	verifier Verifier
	backlog  Backlog
	log      *slog.Logger
}

// NewHandler creates a handler. backlog may be nil when no reconciler runs.
func NewHandler(registry Registry, verifier Verifier, backlog Backlog, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if verifier == nil {
		verifier = verification.New(nil, log)
	}
	return &Handler{
		registry: registry,
		verifier: verifier,
		backlog:  backlog,
		log:      log,
	}
}

// HandleRegister commits a certificate and mints its tokens.
//
// URL format: POST /certificates/register
// Request body: interfaces.RegistrationRequest
// Response: api.RegisterResponse, or 409 when the certificate id is taken.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req interfaces.RegistrationRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.registry.Register(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := api.RegisterResponse{
		Success:         true,
		Certificate:     result.Certificate,
		State:           result.State,
		ProjectionStale: result.ProjectionStale,
	}
	if result.Receipt != nil {
		resp.TxHash = result.Receipt.TxHash
		resp.BlockNumber = result.Receipt.BlockNumber
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleGetCertificate returns the projection record, falling back to the ledger.
//
// URL format: GET /certificates/{certificate_id}
func (h *Handler) HandleGetCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := certificateIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.registry.GetCertificate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleStatus reports where a certificate is in the dual-write protocol.
//
// URL format: GET /certificates/{certificate_id}/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := certificateIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	state, err := h.registry.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.StatusResponse{CertificateID: id, State: state})
}

// HandleMetadata serves the archived metadata document of a certificate.
//
// URL format: GET /certificates/{certificate_id}/metadata
func (h *Handler) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := certificateIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := h.registry.MetadataDocument(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// HandleResync rewrites the projection of a certificate from the ledger.
//
// URL format: POST /certificates/{certificate_id}/resync
func (h *Handler) HandleResync(w http.ResponseWriter, r *http.Request) {
	id, err := certificateIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.registry.Resync(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleStoreProjection attaches presentation fields to a projection record.
//
// URL format: POST /certificates/store-db
// Request body: {"certificate_id": "...", "imageUrl": "...", "attributes": {...}, ...}
// Unknown scalar keys are stored as attributes. Ledger-derived keys are ignored.
func (h *Handler) HandleStoreProjection(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	rawID, presentation, err := parseStoreProjection(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.registry.StoreProjectionOnly(r.Context(), rawID, presentation)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.StoreProjectionResponse{Success: true, Record: rec})
}

// HandleVerify matches the posted fields against the reference record set.
//
// URL format: POST /certificates/verify
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var candidate map[string]any
	if err := decodeBody(r, &candidate); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.verifier.Verify(candidate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.VerifyResponse{Verified: result.Verified, MatchedRecord: result.MatchedRecord})
}

// HandleGetToken returns a token from the projection, falling back to the ledger.
//
// URL format: GET /tokens/{token_id}
func (h *Handler) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.ParseTokenID(chi.URLParam(r, "token_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.registry.GetToken(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, token)
}

// HandleListCertificates pages projection records.
//
// URL format: GET /certificates?offset=0&limit=100
func (h *Handler) HandleListCertificates(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := h.registry.ListCertificates(r.Context(), offset, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []interfaces.ProjectionRecord{}
	}
	h.writeJSON(w, http.StatusOK, api.ListCertificatesResponse{Certificates: records, Offset: offset, Limit: limit})
}

// HandleBacklog lists certificates waiting for a projection retry.
//
// URL format: GET /sync/backlog
func (h *Handler) HandleBacklog(w http.ResponseWriter, r *http.Request) {
	pending := []syncer.Entry{}
	if h.backlog != nil {
		pending = append(pending, h.backlog.Pending()...)
	}
	h.writeJSON(w, http.StatusOK, api.BacklogResponse{Pending: pending})
}

// ledgerDerivedKeys are never accepted as presentation attributes.
var ledgerDerivedKeys = map[string]bool{
	"certificate_id":  true,
	"certificateId":   true,
	"imageUrl":        true,
	"attributes":      true,
	"mainOwner":       true,
	"totalArea":       true,
	"numberOfTokens":  true,
	"certificateHash": true,
	"tokenIds":        true,
}

func parseStoreProjection(body map[string]any) (string, interfaces.PresentationFields, error) {
	var presentation interfaces.PresentationFields

	rawID, err := stringField(body, "certificate_id")
	if err != nil {
		return "", presentation, err
	}
	if rawID == "" {
		if rawID, err = stringField(body, "certificateId"); err != nil {
			return "", presentation, err
		}
	}
	if rawID == "" {
		return "", presentation, interfaces.NewValidationError("certificate_id", "certificate ID is required")
	}

	if presentation.ImageURL, err = stringField(body, "imageUrl"); err != nil {
		return "", presentation, err
	}

	attributes := map[string]string{}
	if raw, ok := body["attributes"]; ok && raw != nil {
		nested, ok := raw.(map[string]any)
		if !ok {
			return "", presentation, interfaces.NewValidationError("attributes", "must be an object")
		}
		for k, v := range nested {
			s, ok := scalarString(v)
			if !ok {
				return "", presentation, interfaces.NewValidationError("attributes", fmt.Sprintf("%q must be a scalar", k))
			}
			attributes[k] = s
		}
	}
	for k, v := range body {
		if ledgerDerivedKeys[k] {
			continue
		}
		if s, ok := scalarString(v); ok {
			attributes[k] = s
		}
	}
	if len(attributes) > 0 {
		presentation.Attributes = attributes
	}
	return rawID, presentation, nil
}

func stringField(body map[string]any, key string) (string, error) {
	raw, ok := body[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", interfaces.NewValidationError(key, "must be a string")
	}
	return s, nil
}

func scalarString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return interfaces.NewValidationError("body", "could not read request body")
	}
	if len(body) > maxBodySize {
		return interfaces.NewValidationError("body", "request body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return interfaces.NewValidationError("body", "no input data provided")
	}

	if err := json.Unmarshal(body, v); err != nil {
		var verr *interfaces.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return interfaces.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

// certificateIDParam decodes the id path segment. chi matches on RawPath when
// the request has one, and then hands back the still-escaped segment.
func certificateIDParam(r *http.Request) (interfaces.CertificateID, error) {
	raw := chi.URLParam(r, "certificate_id")
	if r.URL.RawPath != "" {
		var err error
		if raw, err = url.PathUnescape(raw); err != nil {
			return "", interfaces.NewValidationError("certificateId", "malformed path escape")
		}
	}
	return interfaces.NewCertificateID(raw)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, interfaces.NewValidationError(key, "must be a non-negative integer")
	}
	return v, nil
}

// statusFor maps a domain error to its HTTP status and error code.
func statusFor(err error) (int, api.ErrorResponse) {
	resp := api.ErrorResponse{Error: err.Error()}

	var (
		dupErr *interfaces.AlreadyRegisteredError
		valErr *interfaces.ValidationError
		txErr  *interfaces.TransactionError
	)
	if errors.As(err, &txErr) && !txErr.TxHash.IsZero() {
		resp.TxHash = txErr.TxHash.String()
	}

	switch {
	case errors.As(err, &dupErr):
		sameContent := dupErr.SameContent
		resp.Code, resp.SameContent = api.CodeAlreadyRegistered, &sameContent
		return http.StatusConflict, resp
	case errors.Is(err, interfaces.ErrDuplicateCertificate):
		resp.Code = api.CodeAlreadyRegistered
		return http.StatusConflict, resp
	case errors.Is(err, interfaces.ErrInvalidHash):
		resp.Code = api.CodeInvalidHash
		if errors.As(err, &valErr) {
			resp.Field = valErr.Field
		}
		return http.StatusBadRequest, resp
	case errors.Is(err, interfaces.ErrInvalidInput):
		resp.Code = api.CodeInvalidInput
		if errors.As(err, &valErr) {
			resp.Field = valErr.Field
		}
		return http.StatusBadRequest, resp
	case errors.Is(err, interfaces.ErrNotFound):
		resp.Code = api.CodeNotFound
		return http.StatusNotFound, resp
	case errors.Is(err, interfaces.ErrUnknownOutcome):
		resp.Code = api.CodeUnknownOutcome
		return http.StatusGatewayTimeout, resp
	case errors.Is(err, interfaces.ErrTransactionFailed):
		resp.Code = api.CodeTransactionFailed
		return http.StatusBadGateway, resp
	case errors.Is(err, interfaces.ErrLedgerNotReady):
		resp.Code = api.CodeLedgerNotReady
		return http.StatusServiceUnavailable, resp
	case errors.Is(err, interfaces.ErrQuery):
		resp.Code = api.CodeQueryFailed
		return http.StatusBadGateway, resp
	}

	resp.Code = api.CodeInternal
	resp.Error = "internal server error"
	return http.StatusInternalServerError, resp
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "err", err, "path", r.URL.Path, "status", status)
	} else {
		h.log.Debug("request rejected", "err", err, "path", r.URL.Path, "status", status)
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
