package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/landsure/landsure-registry/interfaces"
)

// CanonicalMetadata encodes a metadata document deterministically.
// encoding/json sorts map keys at every nesting level.
func CanonicalMetadata(metadata map[string]any) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, interfaces.NewValidationError("metadata", "must not be empty")
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, &interfaces.ValidationError{Field: "metadata", Reason: err.Error()}
	}
	return data, nil
}

// MetadataArchive keeps the documents certificate hashes commit to.
type MetadataArchive struct {
	backend interfaces.StorageBackend
}

func NewMetadataArchive(backend interfaces.StorageBackend) *MetadataArchive {
	return &MetadataArchive{backend: backend}
}

// Put stores the canonical document and checks the backend addressed it by hash.
func (a *MetadataArchive) Put(ctx context.Context, hash interfaces.CertificateHash, canonical []byte) error {
	id, err := a.backend.Store(ctx, canonical)
	if err != nil {
		return fmt.Errorf("archiving metadata %s: %w", hash, err)
	}
	if id.CertificateHash() != hash {
		return fmt.Errorf("archiving metadata: backend %s returned id %s for hash %s", a.backend.Name(), id, hash)
	}
	return nil
}

// Get returns the archived document for hash, verifying its content.
func (a *MetadataArchive) Get(ctx context.Context, hash interfaces.CertificateHash) (map[string]any, error) {
	data, err := a.backend.Fetch(ctx, interfaces.ContentID(hash))
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, fmt.Errorf("%w: metadata %s", interfaces.ErrNotFound, hash)
	}
	if err != nil {
		return nil, err
	}

	if interfaces.ComputeID(data).CertificateHash() != hash {
		return nil, fmt.Errorf("%w: archived metadata does not match %s", interfaces.ErrInvalidHash, hash)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding archived metadata: %w", err)
	}
	return doc, nil
}
