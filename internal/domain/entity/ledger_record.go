package entity

import (
	"time"

	"petshop-provenance-ledger/pkg/blockhash"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LedgerRecord represents one hash-linked entry of the provenance ledger
type LedgerRecord struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Index          int64              `bson:"index" json:"index"`
	Timestamp      time.Time          `bson:"timestamp" json:"timestamp"`
	EventType      EventType          `bson:"eventType" json:"eventType"`
	EventData      map[string]any     `bson:"eventData" json:"eventData"`
	DocumentHashes []string           `bson:"documentHashes" json:"documentHashes"`

	// Denormalized lookup fields mined from EventData
	PetID     string `bson:"petId,omitempty" json:"petId,omitempty"`
	PetCode   string `bson:"petCode,omitempty" json:"petCode,omitempty"`
	UserID    string `bson:"userId,omitempty" json:"userId,omitempty"`
	ManagerID string `bson:"managerId,omitempty" json:"managerId,omitempty"`

	PreviousHash string `bson:"previousHash" json:"previousHash"`
	MerkleRoot   string `bson:"merkleRoot" json:"merkleRoot"`
	Nonce        int64  `bson:"nonce" json:"nonce"`
	Difficulty   int    `bson:"difficulty" json:"difficulty"`
	Hash         string `bson:"hash" json:"hash"`
	BlockHash    string `bson:"blockHash" json:"blockHash"`
	Signature    string `bson:"signature" json:"signature"`
	Seal         *Seal  `bson:"seal,omitempty" json:"seal,omitempty"`
}

// Seal is an asymmetric signature over a record hash
type Seal struct {
	Signer    string `bson:"signer" json:"signer"`
	Signature string `bson:"signature" json:"signature"`
}

// Header returns the hashed content of the record
func (r *LedgerRecord) Header() blockhash.Header {
	return blockhash.Header{
		Index:          r.Index,
		Timestamp:      r.Timestamp.UnixMilli(),
		EventType:      string(r.EventType),
		EventData:      r.EventData,
		DocumentHashes: r.DocumentHashes,
		PreviousHash:   r.PreviousHash,
		MerkleRoot:     r.MerkleRoot,
		Difficulty:     r.Difficulty,
		Nonce:          r.Nonce,
	}
}

// IsGenesis reports whether the record opens the chain
func (r *LedgerRecord) IsGenesis() bool {
	return r.Index == 0
}

// HistoryEntry maps the record to its public history view
func (r *LedgerRecord) HistoryEntry() PetHistoryEntry {
	return PetHistoryEntry{
		Index:        r.Index,
		Timestamp:    r.Timestamp,
		EventType:    r.EventType,
		Data:         r.EventData,
		Hash:         r.Hash,
		PreviousHash: r.PreviousHash,
		Nonce:        r.Nonce,
		MerkleRoot:   r.MerkleRoot,
		Signature:    r.Signature,
		Verified:     true,
	}
}

// PetHistoryEntry is the normalized view of a record returned by pet history.
// Verified is a static flag and does not reflect chain verification.
type PetHistoryEntry struct {
	Index        int64          `json:"index"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    EventType      `json:"eventType"`
	Data         map[string]any `json:"data"`
	Hash         string         `json:"hash"`
	PreviousHash string         `json:"previousHash"`
	Nonce        int64          `json:"nonce"`
	MerkleRoot   string         `json:"merkleRoot"`
	Signature    string         `json:"signature"`
	Verified     bool           `json:"verified"`
}

// PetHistory is the chronological event history of one pet
type PetHistory struct {
	PetCode     string            `json:"petCode"`
	TotalEvents int               `json:"totalEvents"`
	History     []PetHistoryEntry `json:"history"`
}
