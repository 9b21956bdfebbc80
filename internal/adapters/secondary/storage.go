package secondary

import (
	"context"
	"fmt"

	"petshop-provenance-ledger/internal/domain/repository"
	"petshop-provenance-ledger/internal/infrastructure/config"
	"petshop-provenance-ledger/internal/infrastructure/database"
	"petshop-provenance-ledger/internal/infrastructure/logger"
	"petshop-provenance-ledger/pkg/blockhash"
	apperrors "petshop-provenance-ledger/pkg/errors"

	"go.uber.org/zap"
)

const genesisPreviousHash = blockhash.GenesisPreviousHash

// Storage bundles the repositories of the configured backend
type Storage struct {
	Backend string
	Ledger  repository.LedgerRepository
	Metrics repository.MetricsRepository
	closeFn func(ctx context.Context) error
}

// Close releases the backend connection
func (s *Storage) Close(ctx context.Context) error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn(ctx)
}

// OpenStorage connects the backend selected by storage.backend
func OpenStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Storage, error) {
	log = log.WithComponent("storage")

	switch cfg.Storage.Backend {
	case "mongodb":
		db, err := database.NewMongoDB(&cfg.MongoDB)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to connect to MongoDB", err)
		}
		if err := db.CreateIndexes(ctx); err != nil {
			db.Close(ctx)
			return nil, apperrors.NewStorageError("failed to create indexes", err)
		}
		log.Info("Ledger storage ready",
			zap.String("backend", "mongodb"),
			zap.String("database", cfg.MongoDB.Database))
		return &Storage{
			Backend: "mongodb",
			Ledger:  NewMongoLedgerRepository(db),
			Metrics: NewMetricsRepository(db),
			closeFn: db.Close,
		}, nil

	case "leveldb":
		db, err := database.NewLevelDB(cfg.Storage.LevelDBPath)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to open LevelDB", err)
		}
		log.Info("Ledger storage ready",
			zap.String("backend", "leveldb"),
			zap.String("path", db.Path()))
		return NewLevelDBStorage(db), nil

	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unsupported storage backend %q", cfg.Storage.Backend), nil)
	}
}

// NewLevelDBStorage wraps an opened LevelDB database
func NewLevelDBStorage(db *database.LevelDB) *Storage {
	return &Storage{
		Backend: "leveldb",
		Ledger:  NewLevelDBLedgerRepository(db),
		Metrics: NewLevelDBMetricsRepository(db),
		closeFn: func(context.Context) error { return db.Close() },
	}
}
