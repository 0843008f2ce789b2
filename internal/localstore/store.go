// Package localstore persists CTR records, generated documents and editing
// drafts on the local machine.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ctrshell/internal/config"
)

// ErrNotFound is returned when a key does not exist in a store.
var ErrNotFound = errors.New("not found")

// Store names; each is one table (sqlite) or key namespace (leveldb).
const (
	StoreRecords   = "ctr_records"
	StoreDocuments = "pdfs"
	StoreDrafts    = "drafts"
)

// ObjectStore is a named key -> bytes store. Keys are enumerated in the order
// they were first written; overwriting a key keeps its position.
type ObjectStore interface {
	Put(ctx context.Context, key string, value []byte) error
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Keys(ctx context.Context) ([]string, error)
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
}

// Stores bundles the three object stores opened over one backend.
type Stores struct {
	Type      string
	Records   ObjectStore
	Documents ObjectStore
	Drafts    ObjectStore

	close func() error
}

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open opens the storage backend named by cfg.Type.
func Open(cfg config.StorageConfig) (*Stores, error) {
	switch cfg.Type {
	case config.StorageMemory:
		return &Stores{
			Type:      cfg.Type,
			Records:   NewMemoryStore(),
			Documents: NewMemoryStore(),
			Drafts:    NewMemoryStore(),
		}, nil

	case config.StorageSQLite, "":
		db, err := openSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		stores := &Stores{Type: config.StorageSQLite, close: db.Close}
		for _, bind := range []struct {
			name string
			dst  *ObjectStore
		}{
			{StoreRecords, &stores.Records},
			{StoreDocuments, &stores.Documents},
			{StoreDrafts, &stores.Drafts},
		} {
			st, err := NewSQLiteStore(db, bind.name)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			*bind.dst = st
		}
		return stores, nil

	case config.StorageLevelDB:
		if err := os.MkdirAll(filepath.Dir(cfg.LevelDB.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", cfg.LevelDB.Path, err)
		}
		db, err := openLevelDB(cfg.LevelDB.Path)
		if err != nil {
			return nil, err
		}
		stores := &Stores{Type: config.StorageLevelDB, close: db.Close}
		for _, bind := range []struct {
			name string
			dst  *ObjectStore
		}{
			{StoreRecords, &stores.Records},
			{StoreDocuments, &stores.Documents},
			{StoreDrafts, &stores.Drafts},
		} {
			st, err := NewLevelDBStore(db, bind.name)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			*bind.dst = st
		}
		return stores, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
