package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/landsure/landsure-registry/interfaces"
	"github.com/landsure/landsure-registry/metrics"
	"github.com/landsure/landsure-registry/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	tracerName = "github.com/landsure/landsure-registry/coordinator"

	// tokenReadConcurrency bounds parallel token reads when loading ledger state.
	tokenReadConcurrency = 8
)

// MetadataArchive stores the canonical documents certificate hashes commit to.
type MetadataArchive interface {
	Put(ctx context.Context, hash interfaces.CertificateHash, canonical []byte) error
	Get(ctx context.Context, hash interfaces.CertificateHash) (map[string]any, error)
}

type Coordinator struct {
	ledger     interfaces.LedgerClient
	projection interfaces.ProjectionStore
	archive    MetadataArchive
	queue      interfaces.SyncQueue
	metrics    *metrics.RegistryMetrics
	maxTokens  uint64
	tracer     trace.Tracer
	log        *slog.Logger
}

type Option func(*Coordinator)

func WithArchive(archive MetadataArchive) Option {
	return func(c *Coordinator) { c.archive = archive }
}

func WithSyncQueue(queue interfaces.SyncQueue) Option {
	return func(c *Coordinator) { c.queue = queue }
}

func WithMetrics(m *metrics.RegistryMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithMaxTokensPerCertificate(n uint64) Option {
	return func(c *Coordinator) { c.maxTokens = n }
}

func New(ledger interfaces.LedgerClient, projection interfaces.ProjectionStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:     ledger,
		projection: projection,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c.log = c.log.With("component", "coordinator")
	return c
}

// SetSyncQueue attaches the reconciler after construction. It must be called
// before the coordinator serves requests.
func (c *Coordinator) SetSyncQueue(queue interfaces.SyncQueue) {
	c.queue = queue
}

// Register commits a certificate to the ledger and mirrors it into the projection.
func (c *Coordinator) Register(ctx context.Context, req *interfaces.RegistrationRequest) (*interfaces.RegistrationResult, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Register")
	defer span.End()

	op, canonical, err := c.prepare(req)
	if err != nil {
		c.metrics.RegistrationOutcome(metrics.OutcomeInvalid)
		return nil, failSpan(span, err)
	}
	span.SetAttributes(
		attribute.String("certificate.id", op.CertificateID.String()),
		attribute.Int64("certificate.tokens", int64(op.NumberOfTokens)),
	)
	log := c.log.With("certificateId", op.CertificateID)

	// Early duplicate detection; the ledger commit stays the arbiter.
	existing, err := c.ledger.GetCertificate(ctx, op.CertificateID)
	switch {
	case err == nil:
		c.metrics.RegistrationOutcome(metrics.OutcomeDuplicate)
		sameContent := op.SameAs(existing)
		log.Info("certificate already registered", "sameContent", sameContent)
		return nil, failSpan(span, &interfaces.AlreadyRegisteredError{
			CertificateID: op.CertificateID,
			SameContent:   sameContent,
		})
	case errors.Is(err, interfaces.ErrNotFound):
	case errors.Is(err, interfaces.ErrQuery):
		log.Warn("ledger pre-check failed, relying on commit", "err", err)
	default:
		c.metrics.RegistrationOutcome(metrics.OutcomeFailed)
		return nil, failSpan(span, err)
	}

	if c.archive != nil {
		if err := c.archive.Put(ctx, op.CertificateHash, canonical); err != nil {
			c.metrics.RegistrationOutcome(metrics.OutcomeFailed)
			log.Error("could not archive metadata", "err", err)
			return nil, failSpan(span, err)
		}
	}

	receipt, err := c.commit(ctx, op)
	if err != nil {
		return nil, failSpan(span, c.classifyCommitError(ctx, op, err))
	}
	c.metrics.RegistrationOutcome(metrics.OutcomeCommitted)
	log.Info("certificate committed", "txHash", receipt.TxHash, "block", receipt.BlockNumber, "tokens", len(receipt.TokenIDs))

	result := &interfaces.RegistrationResult{
		Receipt: receipt,
		State:   interfaces.StateCommittedUnsynced,
	}

	cert, tokens, err := c.ledgerState(ctx, op.CertificateID)
	if err != nil {
		result.Certificate = committedCertificate(op, receipt)
		result.ProjectionStale = true
		c.recordProjectionFailure(ctx, op.CertificateID, fmt.Errorf("re-reading committed certificate: %w", err))
		return result, nil
	}
	result.Certificate = cert

	if _, err := c.projection.Upsert(ctx, cert.CertificateID, interfaces.ProjectionFields{Certificate: cert, Tokens: tokens}); err != nil {
		result.ProjectionStale = true
		c.recordProjectionFailure(ctx, cert.CertificateID, err)
		return result, nil
	}

	result.State = interfaces.StateSynced
	return result, nil
}

func (c *Coordinator) prepare(req *interfaces.RegistrationRequest) (*interfaces.RegisterOp, []byte, error) {
	if req == nil {
		return nil, nil, interfaces.NewValidationError("request", "missing")
	}

	id, err := interfaces.NewCertificateID(req.CertificateID)
	if err != nil {
		return nil, nil, err
	}

	owner := c.ledger.Signer()
	if strings.TrimSpace(req.MainOwner) != "" {
		owner, err = interfaces.NewAddressFromHex(req.MainOwner)
		if err != nil {
			return nil, nil, &interfaces.ValidationError{Field: "mainOwner", Reason: err.Error()}
		}
	}
	if owner.IsZero() {
		return nil, nil, interfaces.NewValidationError("mainOwner", "required when the ledger has no signer")
	}

	area, err := interfaces.NewTotalArea(string(req.TotalArea))
	if err != nil {
		return nil, nil, err
	}

	if req.NumberOfTokens == 0 {
		return nil, nil, interfaces.NewValidationError("numberOfTokens", "must be at least 1")
	}

	canonical, err := storage.CanonicalMetadata(req.Metadata)
	if err != nil {
		return nil, nil, err
	}

	op := &interfaces.RegisterOp{
		CertificateID:   id,
		MainOwner:       owner,
		TotalArea:       area,
		NumberOfTokens:  req.NumberOfTokens,
		CertificateHash: interfaces.ComputeCertificateHash(canonical),
	}
	if err := op.Validate(c.maxTokens); err != nil {
		return nil, nil, err
	}
	return op, canonical, nil
}

func (c *Coordinator) commit(ctx context.Context, op *interfaces.RegisterOp) (*interfaces.CommitReceipt, error) {
	pending, err := c.ledger.Submit(ctx, op)
	if err != nil {
		return nil, err
	}
	c.log.Debug("registration submitted", "certificateId", op.CertificateID, "txHash", pending.Hash())

	start := time.Now()
	receipt, err := c.ledger.AwaitFinality(ctx, pending)
	c.metrics.ObserveFinality(time.Since(start))
	return receipt, err
}

// classifyCommitError turns ledger failures into caller-facing outcomes.
func (c *Coordinator) classifyCommitError(ctx context.Context, op *interfaces.RegisterOp, err error) error {
	log := c.log.With("certificateId", op.CertificateID)

	var txErr *interfaces.TransactionError
	switch {
	case errors.Is(err, interfaces.ErrDuplicateCertificate):
		c.metrics.RegistrationOutcome(metrics.OutcomeDuplicate)
		sameContent := false
		if existing, rerr := c.ledger.GetCertificate(ctx, op.CertificateID); rerr == nil {
			sameContent = op.SameAs(existing)
		}
		log.Info("ledger rejected duplicate certificate", "sameContent", sameContent)
		return &interfaces.AlreadyRegisteredError{CertificateID: op.CertificateID, SameContent: sameContent}

	case errors.Is(err, interfaces.ErrInvalidInput):
		c.metrics.RegistrationOutcome(metrics.OutcomeInvalid)
		return err

	case errors.As(err, &txErr) && txErr.Unknown():
		c.metrics.RegistrationOutcome(metrics.OutcomeUnknown)
		log.Warn("ledger outcome unknown", "txHash", txErr.TxHash, "err", err)
		// If the write landed, the reconciler brings the projection up to date.
		if c.queue != nil {
			c.queue.Enqueue(op.CertificateID, err)
		}
		return err

	default:
		c.metrics.RegistrationOutcome(metrics.OutcomeFailed)
		log.Error("ledger transaction failed", "err", err)
		return err
	}
}

func (c *Coordinator) recordProjectionFailure(ctx context.Context, id interfaces.CertificateID, err error) {
	err = fmt.Errorf("%w: %w", interfaces.ErrProjectionSyncFailed, err)
	c.metrics.ProjectionSyncFailed()
	trace.SpanFromContext(ctx).RecordError(err)
	c.log.Error("projection out of sync with ledger", "certificateId", id, "err", err)
	if c.queue != nil {
		c.queue.Enqueue(id, err)
	}
}

// committedCertificate is the best known view of a commit whose re-read failed.
func committedCertificate(op *interfaces.RegisterOp, receipt *interfaces.CommitReceipt) *interfaces.Certificate {
	return &interfaces.Certificate{
		CertificateID:   op.CertificateID,
		MainOwner:       op.MainOwner,
		TotalArea:       op.TotalArea,
		NumberOfTokens:  op.NumberOfTokens,
		CertificateHash: op.CertificateHash,
		TokenIDs:        receipt.TokenIDs,
	}
}

// ledgerState reads a certificate and all of its tokens from the ledger.
func (c *Coordinator) ledgerState(ctx context.Context, id interfaces.CertificateID) (*interfaces.Certificate, []interfaces.Token, error) {
	cert, err := c.ledger.GetCertificate(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	tokens := make([]interfaces.Token, len(cert.TokenIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tokenReadConcurrency)
	for i, tokenID := range cert.TokenIDs {
		g.Go(func() error {
			token, err := c.ledger.GetToken(gctx, tokenID)
			if err != nil {
				return fmt.Errorf("reading token %s: %w", tokenID, err)
			}
			if token.CertificateID != id {
				return fmt.Errorf("token %s belongs to %s, not %s", tokenID, token.CertificateID, id)
			}
			tokens[i] = *token
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return cert, tokens, nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
