package service

import (
	"context"

	"petshop-provenance-ledger/internal/domain/entity"
)

// EventEmitter hands an event to the ledger without waiting for it to be mined
type EventEmitter interface {
	Emit(ctx context.Context, msg *entity.EventMessage) error
}

// RecordBroadcaster pushes appended records to live subscribers.
// Broadcast must not block the writer.
type RecordBroadcaster interface {
	Broadcast(record *entity.LedgerRecord)
}

// RecordSealer signs record hashes with an asymmetric key
type RecordSealer interface {
	Enabled() bool
	Seal(hash string) (*entity.Seal, error)
	VerifySeal(hash string, seal *entity.Seal) bool
}
