package entity

import "time"

// Reasons a record fails verification
const (
	ReasonHashMismatch    = "Hash mismatch"
	ReasonChainLinkBroken = "Chain link broken"
	ReasonInvalidPoW      = "Invalid proof of work"
	ReasonInvalidSeal     = "Invalid seal"
)

// Certificate statuses
const (
	CertificateVerified = "VERIFIED"
	CertificateInvalid  = "INVALID"
)

// ErrNoPetRecords is the sentinel carried by certificates for unknown pets
const ErrNoPetRecords = "No blockchain records found for this pet"

// InvalidBlock identifies a record that failed one verification check
type InvalidBlock struct {
	Index  int64  `json:"index"`
	Hash   string `json:"hash"`
	Reason string `json:"reason"`
}

// VerificationResult is the outcome of a chain verification.
// Tampering is reported here and never as an error.
type VerificationResult struct {
	IsValid       bool           `json:"isValid"`
	TotalBlocks   int            `json:"totalBlocks"`
	InvalidBlocks []InvalidBlock `json:"invalidBlocks"`
	Message       string         `json:"message"`
}

// VerificationCertificate attests the history of one pet
type VerificationCertificate struct {
	PetCode      string               `json:"petCode"`
	TotalEvents  int                  `json:"totalEvents,omitempty"`
	FirstEvent   *PetHistoryEntry     `json:"firstEvent,omitempty"`
	LatestEvent  *PetHistoryEntry     `json:"latestEvent,omitempty"`
	Verification *VerificationResult  `json:"verification,omitempty"`
	Certificate  *CertificateEnvelope `json:"certificate,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// CertificateEnvelope carries the issuance details of a certificate
type CertificateEnvelope struct {
	ID       string    `json:"id"`
	IssuedAt time.Time `json:"issuedAt"`
	Status   string    `json:"status"`
}

// BlockSummary describes the chain tip in statistics
type BlockSummary struct {
	Index     int64     `json:"index"`
	Hash      string    `json:"hash"`
	EventType EventType `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
}

// EventTypeCount is the number of records of one event type
type EventTypeCount struct {
	ID    string `bson:"_id" json:"_id"`
	Count int64  `bson:"count" json:"count"`
}

// LedgerStats is a read-side aggregation over the persisted chain
type LedgerStats struct {
	TotalBlocks    int64            `json:"totalBlocks"`
	LatestBlock    *BlockSummary    `json:"latestBlock"`
	EventTypes     []EventTypeCount `json:"eventTypes"`
	Algorithm      string           `json:"algorithm"`
	Difficulty     int              `json:"difficulty"`
	FirstBlockDate *time.Time       `json:"firstBlockDate"`
	LastBlockDate  *time.Time       `json:"lastBlockDate"`
}
