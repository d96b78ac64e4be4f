package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/landsure/landsure-registry/interfaces"
	"go.opentelemetry.io/otel/attribute"
)

// StoreProjectionOnly attaches presentation fields to a projection record
// without a ledger transaction. Ledger-derived fields are never written here.
func (c *Coordinator) StoreProjectionOnly(ctx context.Context, rawID string, presentation interfaces.PresentationFields) (*interfaces.ProjectionRecord, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.StoreProjectionOnly")
	defer span.End()

	id, err := interfaces.NewCertificateID(rawID)
	if err != nil {
		return nil, failSpan(span, err)
	}
	span.SetAttributes(attribute.String("certificate.id", id.String()))

	presentation.ImageURL = strings.TrimSpace(presentation.ImageURL)
	if presentation.IsEmpty() {
		return nil, failSpan(span, interfaces.NewValidationError("imageUrl", "image URL or attributes required"))
	}

	rec, err := c.projection.Upsert(ctx, id, interfaces.ProjectionFields{Presentation: &presentation})
	if err != nil {
		return nil, failSpan(span, err)
	}
	c.log.Info("projection enriched", "certificateId", id, "imageUrl", presentation.ImageURL, "attributes", len(presentation.Attributes))
	return rec, nil
}

// Resync rewrites the projection of id from ledger reads. It is safe to repeat.
func (c *Coordinator) Resync(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Resync")
	defer span.End()
	span.SetAttributes(attribute.String("certificate.id", id.String()))

	cert, tokens, err := c.ledgerState(ctx, id)
	if err != nil {
		return nil, failSpan(span, err)
	}

	rec, err := c.projection.Upsert(ctx, id, interfaces.ProjectionFields{Certificate: cert, Tokens: tokens})
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("%w: %w", interfaces.ErrProjectionSyncFailed, err))
	}
	c.metrics.ProjectionRepaired()
	c.log.Debug("projection resynced", "certificateId", id)
	return rec, nil
}

// GetCertificate serves from the projection and falls back to the ledger when
// the projection has no synced record. A ledger hit repairs the projection.
func (c *Coordinator) GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.ProjectionRecord, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.GetCertificate")
	defer span.End()
	span.SetAttributes(attribute.String("certificate.id", id.String()))

	rec, err := c.projection.Get(ctx, id)
	switch {
	case err == nil && rec.HasLedgerState():
		return rec, nil
	case err == nil, errors.Is(err, interfaces.ErrNotFound):
	default:
		c.log.Warn("projection read failed, falling back to ledger", "certificateId", id, "err", err)
	}

	cert, err := c.ledger.GetCertificate(ctx, id)
	if err != nil {
		return nil, failSpan(span, err)
	}
	span.AddEvent("ledger fallback")

	repaired, err := c.Resync(ctx, id)
	if err != nil {
		c.log.Warn("projection repair failed", "certificateId", id, "err", err)
		if c.queue != nil {
			c.queue.Enqueue(id, err)
		}
		fallback := &interfaces.ProjectionRecord{
			CertificateID:   cert.CertificateID,
			MainOwner:       cert.MainOwner,
			TotalArea:       cert.TotalArea,
			NumberOfTokens:  cert.NumberOfTokens,
			CertificateHash: cert.CertificateHash,
			TokenIDs:        cert.TokenIDs,
		}
		if rec != nil {
			fallback.ImageURL = rec.ImageURL
			fallback.Attributes = rec.Attributes
		}
		return fallback, nil
	}
	return repaired, nil
}

// GetToken serves from the projection and falls back to the ledger.
func (c *Coordinator) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.GetToken")
	defer span.End()
	span.SetAttributes(attribute.Int64("token.id", int64(id)))

	token, err := c.projection.GetToken(ctx, id)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		c.log.Warn("projection token read failed, falling back to ledger", "tokenId", id, "err", err)
	}

	token, err = c.ledger.GetToken(ctx, id)
	if err != nil {
		return nil, failSpan(span, err)
	}
	if _, err := c.Resync(ctx, token.CertificateID); err != nil {
		c.log.Warn("projection repair failed", "certificateId", token.CertificateID, "err", err)
		if c.queue != nil {
			c.queue.Enqueue(token.CertificateID, err)
		}
	}
	return token, nil
}

// Status derives the sync state of id from both stores.
func (c *Coordinator) Status(ctx context.Context, id interfaces.CertificateID) (interfaces.SyncState, error) {
	cert, err := c.ledger.GetCertificate(ctx, id)
	if errors.Is(err, interfaces.ErrNotFound) {
		return interfaces.StateUnregistered, nil
	}
	if err != nil {
		return "", err
	}

	rec, err := c.projection.Get(ctx, id)
	if errors.Is(err, interfaces.ErrNotFound) {
		return interfaces.StateCommittedUnsynced, nil
	}
	if err != nil {
		return "", err
	}
	if !rec.Matches(cert) {
		return interfaces.StateCommittedUnsynced, nil
	}
	return interfaces.StateSynced, nil
}

// MetadataDocument returns the archived metadata the ledger hash of id commits to.
func (c *Coordinator) MetadataDocument(ctx context.Context, id interfaces.CertificateID) (map[string]any, error) {
	if c.archive == nil {
		return nil, fmt.Errorf("%w: no metadata archive configured", interfaces.ErrNotFound)
	}
	cert, err := c.ledger.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.archive.Get(ctx, cert.CertificateHash)
}

// ListCertificates pages the projection.
func (c *Coordinator) ListCertificates(ctx context.Context, offset, limit int) ([]interfaces.ProjectionRecord, error) {
	return c.projection.List(ctx, offset, limit)
}

// Ready reports whether the ledger client finished initializing.
func (c *Coordinator) Ready(ctx context.Context) error {
	return c.ledger.Ready(ctx)
}
