package secondary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"petshop-provenance-ledger/internal/domain/entity"
	"petshop-provenance-ledger/internal/domain/repository"
	"petshop-provenance-ledger/internal/infrastructure/database"

	"github.com/syndtr/goleveldb/leveldb/util"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MetricsRepositoryImpl implements MetricsRepository interface on MongoDB
type MetricsRepositoryImpl struct {
	db                *database.MongoDB
	metricsCollection *mongo.Collection
	healthCollection  *mongo.Collection
}

// NewMetricsRepository creates new metrics repository
func NewMetricsRepository(db *database.MongoDB) repository.MetricsRepository {
	return &MetricsRepositoryImpl{
		db:                db,
		metricsCollection: db.GetCollection(database.LedgerMetricsCollection),
		healthCollection:  db.GetCollection(database.SystemHealthCollection),
	}
}

// SaveLedgerMetrics saves ledger metrics
func (r *MetricsRepositoryImpl) SaveLedgerMetrics(ctx context.Context, metrics *entity.LedgerMetrics) error {
	metrics.ID = primitive.NewObjectID()
	_, err := r.metricsCollection.InsertOne(ctx, metrics)
	return err
}

// GetLatestLedgerMetrics gets latest ledger metrics
func (r *MetricsRepositoryImpl) GetLatestLedgerMetrics(ctx context.Context, instance string) (*entity.LedgerMetrics, error) {
	filter := bson.M{"instance": instance}
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	var metrics entity.LedgerMetrics
	err := r.metricsCollection.FindOne(ctx, filter, opts).Decode(&metrics)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}

	return &metrics, nil
}

// SaveSystemHealth saves system health
func (r *MetricsRepositoryImpl) SaveSystemHealth(ctx context.Context, health *entity.SystemHealth) error {
	health.ID = primitive.NewObjectID()
	_, err := r.healthCollection.InsertOne(ctx, health)
	return err
}

// GetLatestSystemHealth gets latest system health
func (r *MetricsRepositoryImpl) GetLatestSystemHealth(ctx context.Context, instance string) (*entity.SystemHealth, error) {
	filter := bson.M{"instance": instance}
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	var health entity.SystemHealth
	err := r.healthCollection.FindOne(ctx, filter, opts).Decode(&health)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}

	return &health, nil
}

// LevelDBMetricsRepository implements MetricsRepository on the embedded store.
// Snapshots are keyed by instance and timestamp so the last key is the latest.
type LevelDBMetricsRepository struct {
	db *database.LevelDB
}

// NewLevelDBMetricsRepository creates new LevelDB metrics repository
func NewLevelDBMetricsRepository(db *database.LevelDB) repository.MetricsRepository {
	return &LevelDBMetricsRepository{db: db}
}

func snapshotPrefix(kind, instance string) string {
	return fmt.Sprintf("%s:%s:", kind, instance)
}

// SaveLedgerMetrics saves ledger metrics
func (r *LevelDBMetricsRepository) SaveLedgerMetrics(ctx context.Context, metrics *entity.LedgerMetrics) error {
	metrics.ID = primitive.NewObjectID()
	return r.put(snapshotPrefix("metrics", metrics.Instance), metrics.Timestamp.UnixNano(), metrics)
}

// GetLatestLedgerMetrics gets latest ledger metrics
func (r *LevelDBMetricsRepository) GetLatestLedgerMetrics(ctx context.Context, instance string) (*entity.LedgerMetrics, error) {
	var metrics entity.LedgerMetrics
	found, err := r.last(snapshotPrefix("metrics", instance), &metrics)
	if err != nil || !found {
		return nil, err
	}
	return &metrics, nil
}

// SaveSystemHealth saves system health
func (r *LevelDBMetricsRepository) SaveSystemHealth(ctx context.Context, health *entity.SystemHealth) error {
	health.ID = primitive.NewObjectID()
	return r.put(snapshotPrefix("health", health.Instance), health.Timestamp.UnixNano(), health)
}

// GetLatestSystemHealth gets latest system health
func (r *LevelDBMetricsRepository) GetLatestSystemHealth(ctx context.Context, instance string) (*entity.SystemHealth, error) {
	var health entity.SystemHealth
	found, err := r.last(snapshotPrefix("health", instance), &health)
	if err != nil || !found {
		return nil, err
	}
	return &health, nil
}

func (r *LevelDBMetricsRepository) put(prefix string, ts int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.DB.Put([]byte(fmt.Sprintf("%s%020d", prefix, ts)), data, nil)
}

func (r *LevelDBMetricsRepository) last(prefix string, v any) (bool, error) {
	iter := r.db.DB.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	if !iter.Last() {
		return false, iter.Error()
	}
	if err := json.Unmarshal(iter.Value(), v); err != nil {
		return false, err
	}
	return true, nil
}
