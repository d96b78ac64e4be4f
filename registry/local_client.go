package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/landsure/landsure-registry/interfaces"
	"github.com/landsure/landsure-registry/ledger"
)

const (
	DefaultFinalityTimeout = 30 * time.Second
	defaultQueueSize       = 64
)

// ErrClientClosed is returned by Submit after Close.
var ErrClientClosed = errors.New("ledger client closed")

// LocalClientConfig configures a LocalLedgerClient.
type LocalClientConfig struct {
	// Signer is recorded as the sender and used as default main owner.
	Signer interfaces.Address

	// QueueSize bounds submissions waiting for the sequencer.
	QueueSize int

	FinalityTimeout time.Duration
}

// LocalLedgerClient submits operations to an embedded ledger.Store through a
// single sequencer goroutine. A submission is accepted once it is queued; from
// then on it is committed or rejected regardless of the caller.
type LocalLedgerClient struct {
	store           *ledger.Store
	signer          interfaces.Address
	finalityTimeout time.Duration
	gate            *Gate
	log             *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan *localTx
	stopped chan struct{}
}

type localTx struct {
	hash interfaces.TxHash
	op   *interfaces.RegisterOp

	done    chan struct{}
	receipt *interfaces.CommitReceipt
	err     error
}

func (tx *localTx) Hash() interfaces.TxHash                  { return tx.hash }
func (tx *localTx) CertificateID() interfaces.CertificateID { return tx.op.CertificateID }

func NewLocalLedgerClient(store *ledger.Store, cfg LocalClientConfig, log *slog.Logger) *LocalLedgerClient {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = DefaultFinalityTimeout
	}

	c := &LocalLedgerClient{
		store:           store,
		signer:          cfg.Signer,
		finalityTimeout: cfg.FinalityTimeout,
		log:             log,
		queue:           make(chan *localTx, cfg.QueueSize),
		stopped:         make(chan struct{}),
	}

	c.gate = StartGate(context.Background(), func(context.Context) error {
		if c.signer.IsZero() {
			return errors.New("no signer address configured")
		}
		height, err := store.Height()
		if err != nil {
			return fmt.Errorf("reading ledger height: %w", err)
		}
		log.Info("local ledger ready", "height", height, "signer", c.signer)
		return nil
	})

	go c.sequence()
	return c
}

func (c *LocalLedgerClient) sequence() {
	defer close(c.stopped)
	for tx := range c.queue {
		// Accepted submissions are committed even if the submitter went away.
		tx.receipt, tx.err = c.store.RegisterCertificate(context.Background(), tx.op)
		if tx.err != nil {
			c.log.Debug("local ledger rejected transaction", "tx", tx.hash, "err", tx.err)
		}
		close(tx.done)
	}
}

// Close stops accepting submissions and waits for queued ones to be committed.
func (c *LocalLedgerClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	<-c.stopped
	<-c.gate.Done()
}

func (c *LocalLedgerClient) Ready(ctx context.Context) error {
	return c.gate.Wait(ctx)
}

func (c *LocalLedgerClient) Signer() interfaces.Address {
	return c.signer
}

func (c *LocalLedgerClient) Submit(ctx context.Context, op *interfaces.RegisterOp) (interfaces.PendingTx, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}
	if err := op.Validate(c.store.MaxTokensPerCertificate()); err != nil {
		return nil, err
	}

	hash, err := ledger.TransactionHash(op)
	if err != nil {
		return nil, fmt.Errorf("hashing transaction: %w", err)
	}
	tx := &localTx{hash: hash, op: op, done: make(chan struct{})}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClientClosed
	}

	select {
	case c.queue <- tx:
		return tx, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *LocalLedgerClient) AwaitFinality(ctx context.Context, pending interfaces.PendingTx) (*interfaces.CommitReceipt, error) {
	tx, ok := pending.(*localTx)
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s was not submitted by this client", interfaces.ErrInvalidInput, pending.Hash())
	}

	ctx, cancel := context.WithTimeout(ctx, c.finalityTimeout)
	defer cancel()

	select {
	case <-tx.done:
	case <-ctx.Done():
		return nil, &interfaces.TransactionError{
			TxHash: tx.hash,
			Reason: ctx.Err().Error(),
			Err:    interfaces.ErrUnknownOutcome,
		}
	}

	if tx.err == nil {
		return tx.receipt, nil
	}
	if errors.Is(tx.err, interfaces.ErrDuplicateCertificate) {
		return nil, &interfaces.TransactionError{
			TxHash: tx.hash,
			Reason: "certificate already exists",
			Err:    interfaces.ErrDuplicateCertificate,
		}
	}
	return nil, &interfaces.TransactionError{TxHash: tx.hash, Reason: tx.err.Error()}
}

func (c *LocalLedgerClient) GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.Certificate, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}
	cert, err := c.store.GetCertificate(ctx, id)
	return cert, classifyQueryError(err)
}

func (c *LocalLedgerClient) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}
	token, err := c.store.GetToken(ctx, id)
	return token, classifyQueryError(err)
}

func (c *LocalLedgerClient) CertificateIDs(ctx context.Context, after interfaces.CertificateID, limit int) ([]interfaces.CertificateID, error) {
	if err := c.Ready(ctx); err != nil {
		return nil, err
	}
	ids, err := c.store.CertificateIDs(ctx, after, limit)
	return ids, classifyQueryError(err)
}

// classifyQueryError keeps NotFound as is and marks everything else as a query failure.
func classifyQueryError(err error) error {
	if err == nil || errors.Is(err, interfaces.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", interfaces.ErrQuery, err)
}
