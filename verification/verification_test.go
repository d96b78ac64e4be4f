package verification

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/landsure/landsure-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const referenceSet = `[
	{"owner": "Asha", "location": "X", "area": 120, "verified": true},
	{"owner": "Ravi", "location": "Y", "area": 80, "verified": false},
	{"owner": "Meera", "location": "Z", "tags": ["a"], "verified": true},
	{"owner": "Kiran", "location": "X", "area": 300, "verified": true}
]`

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	records, err := LoadReferenceSet(strings.NewReader(referenceSet))
	require.NoError(t, err)
	return New(records, nil)
}

func TestVerify(t *testing.T) {
	v := newTestVerifier(t)
	require.Equal(t, 4, v.Len())

	tests := []struct {
		name      string
		candidate map[string]any
		verified  bool
		owner     string
	}{
		{name: "location match", candidate: map[string]any{"location": "X", "verified": true}, verified: true, owner: "Asha"},
		{name: "first match wins", candidate: map[string]any{"location": "X"}, verified: true, owner: "Asha"},
		{name: "more specific match", candidate: map[string]any{"location": "X", "area": float64(300)}, verified: true, owner: "Kiran"},
		{name: "verified key ignored", candidate: map[string]any{"owner": "Asha", "verified": false}, verified: true, owner: "Asha"},
		{name: "unverified record", candidate: map[string]any{"owner": "Ravi"}},
		{name: "no match", candidate: map[string]any{"location": "Q"}},
		{name: "missing field", candidate: map[string]any{"location": "X", "district": "north"}},
		{name: "type mismatch", candidate: map[string]any{"area": "120"}},
		{name: "arrays never match", candidate: map[string]any{"tags": []any{"a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Verify(tt.candidate)
			require.NoError(t, err)
			assert.Equal(t, tt.verified, res.Verified)
			if tt.verified {
				require.NotNil(t, res.MatchedRecord)
				assert.Equal(t, tt.owner, res.MatchedRecord["owner"])
			} else {
				assert.Nil(t, res.MatchedRecord)
			}
		})
	}
}

func TestVerify_EmptyCandidate(t *testing.T) {
	v := newTestVerifier(t)

	_, err := v.Verify(nil)
	require.ErrorIs(t, err, interfaces.ErrInvalidInput)

	_, err = v.Verify(map[string]any{})
	require.ErrorIs(t, err, interfaces.ErrInvalidInput)
}

func TestLoadReferenceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.json")
	require.NoError(t, os.WriteFile(path, []byte(referenceSet), 0o600))

	records, err := LoadReferenceFile(path)
	require.NoError(t, err)
	assert.Len(t, records, 4)
	assert.True(t, records[0].Verified())
	assert.False(t, records[1].Verified())

	_, err = LoadReferenceFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadReferenceSet(strings.NewReader(`{"not": "an array"}`))
	require.Error(t, err)
}
