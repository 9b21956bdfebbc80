package database

import (
	"context"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// MongoDB represents MongoDB database connection
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	config   *config.MongoDBConfig
}

// NewMongoDB creates new MongoDB connection for the ledger store
func NewMongoDB(cfg *config.MongoDBConfig) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	// Ledger writes are acknowledged by a majority and journaled so an
	// appended record is not lost on primary failover
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("petshop-provenance-ledger").
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(60 * time.Second).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(10 * time.Second).
		SetWriteConcern(writeconcern.New(writeconcern.WMajority(), writeconcern.J(true))).
		SetReadConcern(readconcern.Majority()).
		SetRetryWrites(false). // an insert retried after a lost ack would surface as a chain conflict
		SetRetryReads(true).
		SetCompressors([]string{"snappy"})

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := pingWithRetry(ctx, client, 3); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return &MongoDB{
		Client:   client,
		Database: client.Database(cfg.Database),
		config:   cfg,
	}, nil
}

func pingWithRetry(ctx context.Context, client *mongo.Client, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if err = client.Ping(ctx, readpref.Primary()); err == nil {
			return nil
		}
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
		}
	}
	return err
}

// Close closes MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// GetCollection returns a collection
func (m *MongoDB) GetCollection(name string) *mongo.Collection {
	return m.Database.Collection(name)
}

// Collection names
const (
	LedgerRecordsCollection = "ledger_records"
	LedgerMetricsCollection = "ledger_metrics"
	SystemHealthCollection  = "system_health"
)

// CreateIndexes creates necessary indexes for collections
func (m *MongoDB) CreateIndexes(ctx context.Context) error {
	// Ledger records collection indexes. The unique index on "index" is what
	// turns a concurrent append on a stale tip into a duplicate key error.
	recordsCollection := m.GetCollection(LedgerRecordsCollection)

	recordsIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "index", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "petCode", Value: 1}, {Key: "index", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "petId", Value: 1}, {Key: "index", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "index", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "managerId", Value: 1}, {Key: "index", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "eventType", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "eventData.petCode", Value: 1}},
		},
	}

	if _, err := recordsCollection.Indexes().CreateMany(ctx, recordsIndexes); err != nil {
		return err
	}

	// Ledger metrics collection indexes
	metricsCollection := m.GetCollection(LedgerMetricsCollection)

	metricsIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "instance", Value: 1}, {Key: "timestamp", Value: 1}},
		},
	}

	if _, err := metricsCollection.Indexes().CreateMany(ctx, metricsIndexes); err != nil {
		return err
	}

	// System health collection indexes
	healthCollection := m.GetCollection(SystemHealthCollection)

	healthIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "instance", Value: 1}, {Key: "timestamp", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
	}

	if _, err := healthCollection.Indexes().CreateMany(ctx, healthIndexes); err != nil {
		return err
	}

	return nil
}

// HealthCheck performs MongoDB health check with retry logic
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return pingWithRetry(ctx, m.Client, 3)
}

// IsConnected checks if MongoDB connection is active
func (m *MongoDB) IsConnected(ctx context.Context) bool {
	return m.Client.Ping(ctx, nil) == nil
}
