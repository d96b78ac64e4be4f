package interfaces

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ContentID is the Keccak-256 hash of archived content. For a metadata document
// it equals the certificate hash recorded on the ledger.
type ContentID [32]byte

func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id ContentID
	copy(id[:], raw)
	return id, nil
}

// ComputeID calculates the content ID of data.
func ComputeID(data []byte) ContentID {
	return ContentID(crypto.Keccak256Hash(data))
}

func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// CertificateHash reinterprets the content ID as a ledger certificate hash.
func (id ContentID) CertificateHash() CertificateHash {
	return CertificateHash(id)
}

// StorageBackendLocation is a backend URI: [scheme]://[auth@]host[:port][/path][?params]
type StorageBackendLocation string

var (
	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend provides content-addressed storage of certificate metadata documents.
type StorageBackend interface {
	// Fetch retrieves data by content ID.
	Fetch(ctx context.Context, id ContentID) ([]byte, error)

	// Store saves data and returns its content ID.
	Store(ctx context.Context, data []byte) (ContentID, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}
