package secondary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/repository"
	"petshop-provenance-ledger/internal/infrastructure/database"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	recordPrefix = "rec:"
	hashPrefix   = "hash:"
	indexPrefix  = "idx:"
	tipKey       = "meta:tip"
	indexWidth   = 20
)

// RecordKey returns the key a record is stored under
func RecordKey(index int64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", recordPrefix, indexWidth, index))
}

func hashKey(hash string) []byte {
	return []byte(hashPrefix + hash)
}

func fieldPrefix(field, value string) string {
	return indexPrefix + field + ":" + value + ":"
}

func fieldKey(field, value string, index int64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", fieldPrefix(field, value), indexWidth, index))
}

// LevelDBLedgerRepository implements LedgerRepository on an embedded LevelDB
type LevelDBLedgerRepository struct {
	db *database.LevelDB
	// mu serializes tip compare-and-swap with the batch write
	mu sync.Mutex
}

// NewLevelDBLedgerRepository creates new LevelDB ledger repository
func NewLevelDBLedgerRepository(db *database.LevelDB) *LevelDBLedgerRepository {
	return &LevelDBLedgerRepository{db: db}
}

var _ repository.LedgerRepository = (*LevelDBLedgerRepository)(nil)

// AppendRecord persists record if it extends the current tip
func (r *LevelDBLedgerRepository) AppendRecord(ctx context.Context, record *entity.LedgerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tip, err := r.getTip()
	if err != nil {
		return err
	}
	if !extendsTip(tip, record) {
		return apperrors.NewChainConflictError(record.Index, nil)
	}
	if exists, err := r.db.DB.Has(hashKey(record.Hash), nil); err != nil {
		return apperrors.NewStorageError("failed to check record hash", err)
	} else if exists {
		return apperrors.NewChainConflictError(record.Index, fmt.Errorf("hash %s already recorded", record.Hash))
	}

	data, err := json.Marshal(record)
	if err != nil {
		return apperrors.NewStorageError("failed to encode record", err)
	}

	indexValue := []byte(strconv.FormatInt(record.Index, 10))
	batch := new(leveldb.Batch)
	batch.Put(RecordKey(record.Index), data)
	batch.Put(hashKey(record.Hash), indexValue)
	batch.Put([]byte(tipKey), indexValue)
	for _, field := range repository.DenormalizedFields {
		for _, value := range lookupValues(record, field) {
			batch.Put(fieldKey(field, value, record.Index), nil)
		}
	}

	if err := r.db.DB.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return apperrors.NewStorageError("failed to write record", err)
	}
	return nil
}

// GetTip gets the record with the highest index
func (r *LevelDBLedgerRepository) GetTip(ctx context.Context) (*entity.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.getTip()
}

func (r *LevelDBLedgerRepository) getTip() (*entity.LedgerRecord, error) {
	raw, err := r.db.DB.Get([]byte(tipKey), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read chain tip", err)
	}
	index, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, apperrors.NewStorageError("corrupt chain tip", err)
	}
	return r.getRecord(index)
}

// GetFirst gets the record with the lowest index
func (r *LevelDBLedgerRepository) GetFirst(ctx context.Context) (*entity.LedgerRecord, error) {
	iter := r.db.DB.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	defer iter.Release()

	if !iter.First() {
		return nil, iter.Error()
	}
	return decodeRecord(iter.Value())
}

// GetRecordByIndex gets record by index, nil when absent
func (r *LevelDBLedgerRepository) GetRecordByIndex(ctx context.Context, index int64) (*entity.LedgerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.getRecord(index)
}

func (r *LevelDBLedgerRepository) getRecord(index int64) (*entity.LedgerRecord, error) {
	raw, err := r.db.DB.Get(RecordKey(index), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to read record %d", index), err)
	}
	return decodeRecord(raw)
}

// GetRecordsByIndexes gets the records present among indexes
func (r *LevelDBLedgerRepository) GetRecordsByIndexes(ctx context.Context, indexes []int64) (map[int64]*entity.LedgerRecord, error) {
	records := make(map[int64]*entity.LedgerRecord, len(indexes))
	for _, index := range indexes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.getRecord(index)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records[index] = record
		}
	}
	return records, nil
}

// IterateRecords streams records in ascending index order
func (r *LevelDBLedgerRepository) IterateRecords(ctx context.Context, fn func(*entity.LedgerRecord) error) error {
	iter := r.db.DB.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return apperrors.NewStorageError("failed to iterate records", err)
	}
	return nil
}

// GetRecordsByField gets records by denormalized or eventData field
func (r *LevelDBLedgerRepository) GetRecordsByField(ctx context.Context, field, value string) ([]*entity.LedgerRecord, error) {
	if !repository.IsDenormalizedField(field) {
		var records []*entity.LedgerRecord
		err := r.IterateRecords(ctx, func(record *entity.LedgerRecord) error {
			if v, ok := record.EventData[field]; ok && valueMatches(v, value) {
				records = append(records, record)
			}
			return nil
		})
		return records, err
	}

	prefix := fieldPrefix(field, value)
	iter := r.db.DB.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	var indexes []int64
	for iter.Next() {
		suffix := string(iter.Key())[len(prefix):]
		// keys of longer values sharing this prefix carry extra segments
		if len(suffix) != indexWidth {
			continue
		}
		index, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		indexes = append(indexes, index)
	}
	err := iter.Error()
	iter.Release()
	if err != nil {
		return nil, apperrors.NewStorageError("failed to scan field index", err)
	}

	records := make([]*entity.LedgerRecord, 0, len(indexes))
	for _, index := range indexes {
		record, err := r.getRecord(index)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, record)
		}
	}
	return records, nil
}

// CountRecords counts persisted records
func (r *LevelDBLedgerRepository) CountRecords(ctx context.Context) (int64, error) {
	tip, err := r.GetTip(ctx)
	if err != nil || tip == nil {
		return 0, err
	}
	return tip.Index + 1, nil
}

// CountByEventType counts records grouped by event type, most frequent first
func (r *LevelDBLedgerRepository) CountByEventType(ctx context.Context) ([]entity.EventTypeCount, error) {
	counts := make(map[string]int64)
	err := r.IterateRecords(ctx, func(record *entity.LedgerRecord) error {
		counts[string(record.EventType)]++
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]entity.EventTypeCount, 0, len(counts))
	for id, count := range counts {
		result = append(result, entity.EventTypeCount{ID: id, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Ping checks the database is usable
func (r *LevelDBLedgerRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func decodeRecord(raw []byte) (*entity.LedgerRecord, error) {
	var record entity.LedgerRecord
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&record); err != nil {
		return nil, apperrors.NewStorageError("failed to decode record", err)
	}
	if record.EventData == nil {
		record.EventData = map[string]any{}
	}
	record.EventData = entity.NormalizePayload(record.EventData).(map[string]any)
	return &record, nil
}

// lookupValues returns the values a record is indexed under for field:
// the denormalized value and the raw eventData value when they differ
func lookupValues(record *entity.LedgerRecord, field string) []string {
	var values []string
	var top string
	switch field {
	case "petId":
		top = record.PetID
	case "petCode":
		top = record.PetCode
	case "userId":
		top = record.UserID
	case "managerId":
		top = record.ManagerID
	}
	if top != "" {
		values = append(values, top)
	}
	if v, ok := record.EventData[field]; ok {
		if s, ok := v.(string); ok && s != "" && s != top {
			values = append(values, s)
		}
	}
	return values
}

// valueMatches compares a stored eventData value with a path parameter
func valueMatches(stored any, value string) bool {
	switch v := stored.(type) {
	case string:
		return v == value
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		return err == nil && f == v
	case bool:
		b, err := strconv.ParseBool(value)
		return err == nil && b == v
	default:
		return false
	}
}

func extendsTip(tip, record *entity.LedgerRecord) bool {
	if tip == nil {
		return record.Index == 0 && record.PreviousHash == genesisPreviousHash
	}
	return record.Index == tip.Index+1 && record.PreviousHash == tip.Hash
}
