package blockhash

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader() Header {
	return Header{
		Index:        3,
		Timestamp:    1700000000000,
		EventType:    "pet_created",
		EventData:    map[string]any{"petCode": "PET-001", "price": 1200.0},
		PreviousHash: "00ab",
		Difficulty:   DefaultDifficulty,
	}
}

func TestHash_Deterministic(t *testing.T) {
	h := sampleHeader()
	assert.Equal(t, Hash(h), Hash(h))
	assert.Len(t, Hash(h), 64)

	// nil and empty payloads encode identically
	empty := h
	empty.EventData = map[string]any{}
	empty.DocumentHashes = []string{}
	bare := h
	bare.EventData = nil
	bare.DocumentHashes = nil
	assert.Equal(t, Hash(empty), Hash(bare))
}

func TestHash_SensitiveToContent(t *testing.T) {
	base := sampleHeader()

	changed := sampleHeader()
	changed.EventData = map[string]any{"petCode": "PET-002", "price": 1200.0}
	assert.NotEqual(t, Hash(base), Hash(changed))

	changed = sampleHeader()
	changed.Nonce = 1
	assert.NotEqual(t, Hash(base), Hash(changed))

	changed = sampleHeader()
	changed.PreviousHash = "00ac"
	assert.NotEqual(t, Hash(base), Hash(changed))
}

func TestMine(t *testing.T) {
	mined, hash, err := Mine(context.Background(), sampleHeader())
	require.NoError(t, err)

	assert.True(t, HasProofOfWork(hash, DefaultDifficulty))
	assert.Equal(t, hash, Hash(mined))
	assert.GreaterOrEqual(t, mined.Nonce, int64(0))
}

func TestMine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := sampleHeader()
	h.Difficulty = 64
	_, _, err := Mine(ctx, h)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHasProofOfWork(t *testing.T) {
	tests := []struct {
		hash       string
		difficulty int
		expected   bool
	}{
		{"00abc", 2, true},
		{"000bc", 2, true},
		{"0abcd", 2, false},
		{"abcde", 0, true},
		{"0", 2, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, HasProofOfWork(tt.hash, tt.difficulty), tt.hash)
	}
}

func TestMerkleRoot(t *testing.T) {
	data := map[string]any{"petCode": "PET-001"}

	single := MerkleRoot("pet_created", data, nil)
	assert.Len(t, single, 64)
	assert.Equal(t, single, MerkleRoot("pet_created", data, []string{}))

	withDocs := MerkleRoot("pet_created", data, []string{"doc-a", "doc-b"})
	assert.NotEqual(t, single, withDocs)

	// odd leaf count duplicates the last node
	leaf0 := MerkleRoot("pet_created", data, nil)
	leafA := Digest("doc-a")
	three := MerkleRoot("pet_created", data, []string{"doc-a", "doc-b"})
	two := Digest(leaf0 + leafA)
	assert.Equal(t, Digest(two+Digest(Digest("doc-b")+Digest("doc-b"))), three)

	assert.NotEqual(t, withDocs, MerkleRoot("pet_created", data, []string{"doc-b", "doc-a"}))
}

func TestSignature(t *testing.T) {
	sig := Signature("00ab", "cd", 42)
	assert.Equal(t, Digest("00ab:cd:42"), sig)
	assert.NotEqual(t, sig, Signature("00ab", "cd", 43))
}
