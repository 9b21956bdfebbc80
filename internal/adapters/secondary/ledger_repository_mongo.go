package secondary

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/repository"
	"petshop-provenance-ledger/internal/infrastructure/database"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLedgerRepository implements LedgerRepository on MongoDB
type MongoLedgerRepository struct {
	db         *database.MongoDB
	collection *mongo.Collection
}

// NewMongoLedgerRepository creates new MongoDB ledger repository
func NewMongoLedgerRepository(db *database.MongoDB) *MongoLedgerRepository {
	return &MongoLedgerRepository{
		db:         db,
		collection: db.GetCollection(database.LedgerRecordsCollection),
	}
}

var _ repository.LedgerRepository = (*MongoLedgerRepository)(nil)

// retryOperation executes a read with retry logic for MongoDB connection issues.
// Inserts never go through here: a retried insert whose first attempt landed
// would be reported as a chain conflict.
func (r *MongoLedgerRepository) retryOperation(ctx context.Context, operation func() error) error {
	maxRetries := 3
	baseDelay := time.Second

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}

		if !isConnectionError(err) || attempt == maxRetries-1 {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay * time.Duration(attempt+1)):
		}
	}

	return err
}

// isConnectionError checks if the error is related to MongoDB connection issues
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection",
		"server selection",
		"no reachable servers",
		"socket",
		"broken pipe",
	}
	for _, connErr := range connectionErrors {
		if strings.Contains(errStr, connErr) {
			return true
		}
	}
	return false
}

// AppendRecord inserts record if it extends the current tip. The unique
// index on "index" rejects a concurrent writer that read the same tip.
func (r *MongoLedgerRepository) AppendRecord(ctx context.Context, record *entity.LedgerRecord) error {
	tip, err := r.GetTip(ctx)
	if err != nil {
		return err
	}
	if !extendsTip(tip, record) {
		return apperrors.NewChainConflictError(record.Index, nil)
	}

	record.ID = primitive.NewObjectID()
	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		record.ID = primitive.NilObjectID
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.NewChainConflictError(record.Index, err)
		}
		return apperrors.NewStorageError("failed to insert record", err)
	}
	return nil
}

// GetTip gets the record with the highest index
func (r *MongoLedgerRepository) GetTip(ctx context.Context) (*entity.LedgerRecord, error) {
	return r.findOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "index", Value: -1}}))
}

// GetFirst gets the record with the lowest index
func (r *MongoLedgerRepository) GetFirst(ctx context.Context) (*entity.LedgerRecord, error) {
	return r.findOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "index", Value: 1}}))
}

// GetRecordByIndex gets record by index
func (r *MongoLedgerRepository) GetRecordByIndex(ctx context.Context, index int64) (*entity.LedgerRecord, error) {
	return r.findOne(ctx, bson.M{"index": index})
}

func (r *MongoLedgerRepository) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*entity.LedgerRecord, error) {
	var record entity.LedgerRecord
	err := r.retryOperation(ctx, func() error {
		return r.collection.FindOne(ctx, filter, opts...).Decode(&record)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.NewStorageError("failed to read record", err)
	}
	normalizeRecord(&record)
	return &record, nil
}

// GetRecordsByIndexes gets the records present among indexes
func (r *MongoLedgerRepository) GetRecordsByIndexes(ctx context.Context, indexes []int64) (map[int64]*entity.LedgerRecord, error) {
	result := make(map[int64]*entity.LedgerRecord, len(indexes))
	if len(indexes) == 0 {
		return result, nil
	}

	records, err := r.find(ctx, bson.M{"index": bson.M{"$in": indexes}})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		result[record.Index] = record
	}
	return result, nil
}

// IterateRecords streams records in ascending index order
func (r *MongoLedgerRepository) IterateRecords(ctx context.Context, fn func(*entity.LedgerRecord) error) error {
	opts := options.Find().SetSort(bson.D{{Key: "index", Value: 1}}).SetBatchSize(500)

	var cursor *mongo.Cursor
	err := r.retryOperation(ctx, func() error {
		var err error
		cursor, err = r.collection.Find(ctx, bson.M{}, opts)
		return err
	})
	if err != nil {
		return apperrors.NewStorageError("failed to iterate records", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var record entity.LedgerRecord
		if err := cursor.Decode(&record); err != nil {
			return apperrors.NewStorageError("failed to decode record", err)
		}
		normalizeRecord(&record)
		if err := fn(&record); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return apperrors.NewStorageError("failed to iterate records", err)
	}
	return nil
}

// GetRecordsByField gets records by denormalized or eventData field
func (r *MongoLedgerRepository) GetRecordsByField(ctx context.Context, field, value string) ([]*entity.LedgerRecord, error) {
	return r.find(ctx, fieldFilter(field, value))
}

func fieldFilter(field, value string) bson.M {
	nested := "eventData." + field
	alternatives := bson.A{bson.M{nested: value}}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		alternatives = append(alternatives, bson.M{nested: f})
	}
	if repository.IsDenormalizedField(field) {
		alternatives = append(alternatives, bson.M{field: value})
	}
	return bson.M{"$or": alternatives}
}

func (r *MongoLedgerRepository) find(ctx context.Context, filter bson.M) ([]*entity.LedgerRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "index", Value: 1}})

	var records []*entity.LedgerRecord
	err := r.retryOperation(ctx, func() error {
		cursor, err := r.collection.Find(ctx, filter, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		records = records[:0]
		for cursor.Next(ctx) {
			var record entity.LedgerRecord
			if err := cursor.Decode(&record); err != nil {
				return err
			}
			normalizeRecord(&record)
			records = append(records, &record)
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, apperrors.NewStorageError("failed to query records", err)
	}
	return records, nil
}

// CountRecords counts persisted records
func (r *MongoLedgerRepository) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := r.retryOperation(ctx, func() error {
		var err error
		count, err = r.collection.CountDocuments(ctx, bson.M{})
		return err
	})
	if err != nil {
		return 0, apperrors.NewStorageError("failed to count records", err)
	}
	return count, nil
}

// CountByEventType counts records grouped by event type, most frequent first
func (r *MongoLedgerRepository) CountByEventType(ctx context.Context) ([]entity.EventTypeCount, error) {
	pipeline := []bson.M{
		{
			"$group": bson.M{
				"_id":   "$eventType",
				"count": bson.M{"$sum": 1},
			},
		},
		{
			"$sort": bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}},
		},
	}

	var counts []entity.EventTypeCount
	err := r.retryOperation(ctx, func() error {
		cursor, err := r.collection.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		counts = counts[:0]
		return cursor.All(ctx, &counts)
	})
	if err != nil {
		return nil, apperrors.NewStorageError("failed to aggregate event types", err)
	}
	return counts, nil
}

// Ping checks the MongoDB connection
func (r *MongoLedgerRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// normalizeRecord converts BSON container types in decoded payloads to the
// plain JSON shapes the record was hashed with. Integers come back as int64.
func normalizeRecord(record *entity.LedgerRecord) {
	if record.EventData == nil {
		record.EventData = map[string]any{}
		return
	}
	record.EventData = normalizeValue(record.EventData).(map[string]any)
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case primitive.M:
		return normalizeValue(map[string]any(val))
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, elem := range val {
			out[elem.Key] = normalizeValue(elem.Value)
		}
		return out
	case primitive.A:
		return normalizeValue([]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case int32:
		return int64(val)
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
