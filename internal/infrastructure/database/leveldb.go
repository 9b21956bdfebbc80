package database

import (
	"context"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDB represents an embedded LevelDB ledger store
type LevelDB struct {
	DB   *leveldb.DB
	path string
}

// NewLevelDB opens (or creates) the LevelDB database at path
func NewLevelDB(path string) (*LevelDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(path, &opt.Options{
		BlockCacheCapacity: 8 * opt.MiB,
	})
	if err != nil {
		return nil, err
	}

	return &LevelDB{DB: db, path: path}, nil
}

// NewMemLevelDB opens a LevelDB database backed by memory
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{DB: db, path: ":memory:"}, nil
}

// Path returns the on-disk location, or ":memory:"
func (l *LevelDB) Path() string {
	return l.path
}

// HealthCheck reads a property to confirm the database is open
func (l *LevelDB) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := l.DB.GetProperty("leveldb.stats")
	return err
}

// Close closes the database
func (l *LevelDB) Close() error {
	return l.DB.Close()
}
