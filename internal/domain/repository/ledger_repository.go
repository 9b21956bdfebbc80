package repository

import (
	"context"

	"petshop-provenance-ledger/internal/domain/entity"
)

// LedgerRepository interface for ledger record persistence.
// The ledger is append-only: there are no update or delete operations.
type LedgerRepository interface {
	// AppendRecord persists record only if it extends the current tip.
	// It fails with a chain conflict error otherwise.
	AppendRecord(ctx context.Context, record *entity.LedgerRecord) error

	// Tip and boundary reads, nil when the chain is empty
	GetTip(ctx context.Context) (*entity.LedgerRecord, error)
	GetFirst(ctx context.Context) (*entity.LedgerRecord, error)

	GetRecordByIndex(ctx context.Context, index int64) (*entity.LedgerRecord, error)
	GetRecordsByIndexes(ctx context.Context, indexes []int64) (map[int64]*entity.LedgerRecord, error)

	// IterateRecords streams every record in ascending index order.
	// Iteration stops at the first error returned by fn.
	IterateRecords(ctx context.Context, fn func(*entity.LedgerRecord) error) error

	// GetRecordsByField returns records whose denormalized field or
	// eventData.<field> equals value, ascending by index
	GetRecordsByField(ctx context.Context, field, value string) ([]*entity.LedgerRecord, error)

	CountRecords(ctx context.Context) (int64, error)
	CountByEventType(ctx context.Context) ([]entity.EventTypeCount, error)

	Ping(ctx context.Context) error
}

// DenormalizedFields are stored at the top level of a record for indexed lookup
var DenormalizedFields = []string{"petId", "petCode", "userId", "managerId"}

// IsDenormalizedField reports whether field is stored at the top level
func IsDenormalizedField(field string) bool {
	for _, f := range DenormalizedFields {
		if f == field {
			return true
		}
	}
	return false
}
