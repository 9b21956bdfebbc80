// Package blockhash holds the hashing and proof-of-work primitives shared by
// the ledger writer, the verifier and the operator tooling.
package blockhash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	// Algorithm is the digest reported in ledger statistics
	Algorithm = "SHA-256"
	// GenesisPreviousHash links the first record of the chain
	GenesisPreviousHash = "0"
	// DefaultDifficulty is the number of leading hex zeros a record hash needs
	DefaultDifficulty = 2

	ctxCheckInterval = 4096
)

// Header is the hashed content of a ledger record.
// Field order is fixed and map keys are emitted sorted by encoding/json.
type Header struct {
	Index          int64          `json:"index"`
	Timestamp      int64          `json:"timestamp"`
	EventType      string         `json:"eventType"`
	EventData      map[string]any `json:"eventData"`
	DocumentHashes []string       `json:"documentHashes"`
	PreviousHash   string         `json:"previousHash"`
	MerkleRoot     string         `json:"merkleRoot"`
	Difficulty     int            `json:"difficulty"`
	Nonce          int64          `json:"nonce"`
}

func (h Header) canonical() Header {
	if h.EventData == nil {
		h.EventData = map[string]any{}
	}
	if h.DocumentHashes == nil {
		h.DocumentHashes = []string{}
	}
	return h
}

// Hash returns the lowercase hex SHA-256 of the canonical header encoding
func Hash(h Header) string {
	data, err := json.Marshal(h.canonical())
	if err != nil {
		// Only unsupported values (channels, funcs, NaN) end up here; hash the
		// error text so the mismatch surfaces at verification time.
		return sum([]byte(err.Error()))
	}
	return sum(data)
}

// MerkleRoot builds a binary Merkle tree whose first leaf is the digest of the
// event content and whose remaining leaves are the attached document hashes.
// An odd node at any level is paired with itself.
func MerkleRoot(eventType string, eventData map[string]any, documentHashes []string) string {
	if eventData == nil {
		eventData = map[string]any{}
	}
	content, err := json.Marshal(struct {
		EventType string         `json:"eventType"`
		EventData map[string]any `json:"eventData"`
	}{eventType, eventData})
	if err != nil {
		content = []byte(err.Error())
	}

	level := make([]string, 0, len(documentHashes)+1)
	level = append(level, sum(content))
	for _, doc := range documentHashes {
		level = append(level, sum([]byte(doc)))
	}

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, sum([]byte(left+right)))
		}
		level = next
	}
	return level[0]
}

// Mine searches nonces from zero until the header hash satisfies its
// difficulty. It returns the header carrying the winning nonce and its hash.
func Mine(ctx context.Context, h Header) (Header, string, error) {
	h = h.canonical()
	for nonce := int64(0); ; nonce++ {
		if nonce%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return h, "", err
			}
		}
		h.Nonce = nonce
		hash := Hash(h)
		if HasProofOfWork(hash, h.Difficulty) {
			return h, hash, nil
		}
	}
}

// HasProofOfWork reports whether hash starts with difficulty hex zeros
func HasProofOfWork(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.HasPrefix(hash, strings.Repeat("0", difficulty))
}

// Signature is the content digest returned alongside certificates
func Signature(hash, merkleRoot string, timestamp int64) string {
	return sum([]byte(hash + ":" + merkleRoot + ":" + strconv.FormatInt(timestamp, 10)))
}

// Digest returns the hex SHA-256 of s
func Digest(s string) string {
	return sum([]byte(s))
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
