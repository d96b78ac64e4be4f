package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/landsure/landsure-registry/interfaces"
)

const (
	// DefaultMaxTokensPerCertificate bounds the size of one atomic mint.
	DefaultMaxTokensPerCertificate = 10000

	defaultPageSize   = 100
	maxCommitAttempts = 3
)

// Store is the authoritative certificate and token ledger.
//
// Commits are serialized by a mutex and applied in a single badger
// transaction, so a certificate and all its tokens become visible together or
// not at all, and two registrations of the same id can never both succeed.
type Store struct {
	db        *badger.DB
	log       *slog.Logger
	maxTokens uint64

	commitMu sync.Mutex
}

type Option func(*storeOptions)

type storeOptions struct {
	dataDir   string
	logger    *slog.Logger
	maxTokens uint64
}

// WithDataDir persists the ledger on disk. Without it the ledger is in-memory.
func WithDataDir(dir string) Option {
	return func(o *storeOptions) { o.dataDir = dir }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) { o.logger = logger }
}

func WithMaxTokensPerCertificate(n uint64) Option {
	return func(o *storeOptions) { o.maxTokens = n }
}

func New(opts ...Option) (*Store, error) {
	o := storeOptions{maxTokens: DefaultMaxTokensPerCertificate}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	badgerOpts := badger.DefaultOptions(o.dataDir).
		WithLogger(newBadgerLogger(o.logger)).
		WithLoggingLevel(badger.WARNING)
	if o.dataDir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	return &Store{
		db:        db,
		log:       o.logger,
		maxTokens: o.maxTokens,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// MaxTokensPerCertificate is the configured mint bound.
func (s *Store) MaxTokensPerCertificate() uint64 {
	return s.maxTokens
}

// RegisterCertificate creates the certificate and mints its tokens, owned by
// op.MainOwner, with fresh ids taken from a ledger-wide counter.
// Returns an error matching interfaces.ErrDuplicateCertificate when the id exists.
func (s *Store) RegisterCertificate(ctx context.Context, op *interfaces.RegisterOp) (*interfaces.CommitReceipt, error) {
	if err := op.Validate(s.maxTokens); err != nil {
		return nil, err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var receipt *receiptRecord
	var err error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		receipt, err = s.commit(op)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.log.Warn("ledger commit conflict, retrying", "attempt", attempt, "certificateId", op.CertificateID)
	}
	if err != nil {
		return nil, err
	}

	s.log.Debug("certificate committed",
		"certificateId", op.CertificateID,
		"tokens", op.NumberOfTokens,
		"height", receipt.BlockNumber)

	return receipt.toReceipt(), nil
}

func (s *Store) commit(op *interfaces.RegisterOp) (*receiptRecord, error) {
	var receipt *receiptRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(certificateKey(op.CertificateID))
		if err == nil {
			return fmt.Errorf("%w: %s", interfaces.ErrDuplicateCertificate, op.CertificateID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		nextToken, err := getCounter(txn, nextTokenKey, 1)
		if err != nil {
			return err
		}
		height, err := getCounter(txn, heightKey, 0)
		if err != nil {
			return err
		}
		height++

		tokenIDs := make([]uint64, op.NumberOfTokens)
		for i := range tokenIDs {
			tokenIDs[i] = nextToken + uint64(i)
			enc, err := rlp.EncodeToBytes(&tokenRecord{
				TokenID:       tokenIDs[i],
				CertificateID: string(op.CertificateID),
				CurrentOwner:  op.MainOwner,
			})
			if err != nil {
				return err
			}
			if err := txn.Set(tokenKey(interfaces.TokenID(tokenIDs[i])), enc); err != nil {
				return err
			}
		}

		enc, err := rlp.EncodeToBytes(newCertificateRecord(op, tokenIDs))
		if err != nil {
			return err
		}
		if err := txn.Set(certificateKey(op.CertificateID), enc); err != nil {
			return err
		}

		txHash, err := TransactionHash(op)
		if err != nil {
			return err
		}
		receipt = &receiptRecord{
			TxHash:        txHash,
			BlockNumber:   height,
			CertificateID: string(op.CertificateID),
			TokenIDs:      tokenIDs,
		}
		enc, err = rlp.EncodeToBytes(receipt)
		if err != nil {
			return err
		}
		if err := txn.Set(receiptKey(txHash), enc); err != nil {
			return err
		}

		if err := txn.Set(nextTokenKey, encodeUint64(nextToken+op.NumberOfTokens)); err != nil {
			return err
		}
		return txn.Set(heightKey, encodeUint64(height))
	})
	return receipt, err
}

func getCounter(txn *badger.Txn, key []byte, initial uint64) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return initial, nil
	}
	if err != nil {
		return 0, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return decodeUint64(val), nil
}

func (s *Store) get(key []byte, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return interfaces.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return rlp.DecodeBytes(val, out)
		})
	})
}

// GetCertificate treats a zero owner as never registered.
func (s *Store) GetCertificate(ctx context.Context, id interfaces.CertificateID) (*interfaces.Certificate, error) {
	var rec certificateRecord
	if err := s.get(certificateKey(id), &rec); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%w: certificate %s", interfaces.ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading certificate %s: %w", id, err)
	}
	if rec.MainOwner == interfaces.ZeroAddress {
		return nil, fmt.Errorf("%w: certificate %s", interfaces.ErrNotFound, id)
	}
	return rec.toCertificate()
}

func (s *Store) GetToken(ctx context.Context, id interfaces.TokenID) (*interfaces.Token, error) {
	var rec tokenRecord
	if err := s.get(tokenKey(id), &rec); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%w: token %s", interfaces.ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading token %s: %w", id, err)
	}
	return rec.toToken(), nil
}

func (s *Store) Receipt(ctx context.Context, hash interfaces.TxHash) (*interfaces.CommitReceipt, error) {
	var rec receiptRecord
	if err := s.get(receiptKey(hash), &rec); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%w: transaction %s", interfaces.ErrNotFound, hash)
		}
		return nil, fmt.Errorf("reading receipt %s: %w", hash, err)
	}
	return rec.toReceipt(), nil
}

// CertificateIDs pages registered ids in ascending byte order, starting after the given id.
func (s *Store) CertificateIDs(ctx context.Context, after interfaces.CertificateID, limit int) ([]interfaces.CertificateID, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	var ids []interfaces.CertificateID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = certificatePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := certificateKey(after)
		for it.Seek(start); it.ValidForPrefix(certificatePrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := interfaces.CertificateID(it.Item().Key()[len(certificatePrefix):])
			if after != "" && id == after {
				continue
			}
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing certificates: %w", err)
	}
	return ids, nil
}

// Height is the number of committed transactions.
func (s *Store) Height() (uint64, error) {
	var height uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		height, err = getCounter(txn, heightKey, 0)
		return err
	})
	return height, err
}
