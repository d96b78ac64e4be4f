// Package verification matches free-form certificate details against a
// reference record set.
package verification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/landsure/landsure-registry/interfaces"
)

// VerifiedKey marks a reference record as verified. It is never compared.
const VerifiedKey = "verified"

type Record map[string]any

// Verified reports whether the record carries verified=true.
func (r Record) Verified() bool {
	v, ok := r[VerifiedKey].(bool)
	return ok && v
}

type Result struct {
	Verified      bool   `json:"verified"`
	MatchedRecord Record `json:"matchedRecord,omitempty"`
}

type Verifier struct {
	records []Record
	log     *slog.Logger
}

func New(records []Record, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Verifier{records: records, log: log}
}

// LoadReferenceSet decodes a JSON array of records.
func LoadReferenceSet(r io.Reader) ([]Record, error) {
	var records []Record
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding reference set: %w", err)
	}
	return records, nil
}

func LoadReferenceFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadReferenceSet(bytes.NewReader(data))
}

func (v *Verifier) Len() int {
	return len(v.records)
}

// Verify returns the first record whose fields equal every candidate field.
// The result is verified only when that record is marked verified.
func (v *Verifier) Verify(candidate map[string]any) (*Result, error) {
	if len(candidate) == 0 {
		return nil, interfaces.NewValidationError("candidate", "no input data provided")
	}

	for _, rec := range v.records {
		if !matches(rec, candidate) {
			continue
		}
		if !rec.Verified() {
			v.log.Debug("candidate matched an unverified record")
			return &Result{}, nil
		}
		return &Result{Verified: true, MatchedRecord: rec}, nil
	}
	return &Result{}, nil
}

func matches(rec Record, candidate map[string]any) bool {
	for key, want := range candidate {
		if key == VerifiedKey {
			continue
		}
		got, ok := rec[key]
		if !ok || !scalarEqual(got, want) {
			return false
		}
	}
	return true
}

// scalarEqual compares JSON scalars by type and value. Objects and arrays never
// compare equal.
func scalarEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && av == bv
	default:
		return false
	}
}
