package localstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

func openLevelDB(path string) (*leveldb.DB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return db, nil
}

// LevelDBStore namespaces one object store inside a shared leveldb:
//
//	<name>/v/<key>   value
//	<name>/s/<key>   8-byte big-endian first-write seq
//	<name>/o/<seq>   key, iterated for enumeration order
type LevelDBStore struct {
	db   *leveldb.DB
	name string

	mu  sync.Mutex // serializes writes so seq and order stay consistent
	seq uint64
}

// NewLevelDBStore opens namespace name in db and recovers its sequence.
func NewLevelDBStore(db *leveldb.DB, name string) (*LevelDBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &LevelDBStore{db: db, name: name}

	it := db.NewIterator(util.BytesPrefix(s.prefix("o")), nil)
	if it.Last() {
		s.seq = binary.BigEndian.Uint64(it.Key()[len(s.prefix("o")):])
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", name, err)
	}
	return s, nil
}

func (s *LevelDBStore) prefix(kind string) []byte {
	return []byte(s.name + "/" + kind + "/")
}

func (s *LevelDBStore) key(kind, key string) []byte {
	return append(s.prefix(kind), key...)
}

func (s *LevelDBStore) orderKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(s.prefix("o"), seq)
}

func (s *LevelDBStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	_, err := s.db.Get(s.key("s", key), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		s.seq++
		batch.Put(s.key("s", key), binary.BigEndian.AppendUint64(nil, s.seq))
		batch.Put(s.orderKey(s.seq), []byte(key))
	case err != nil:
		return fmt.Errorf("put %s/%s: %w", s.name, key, err)
	}
	batch.Put(s.key("v", key), value)
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("put %s/%s: %w", s.name, key, err)
	}
	return nil
}

func (s *LevelDBStore) Get(_ context.Context, key string) ([]byte, error) {
	v, err := s.db.Get(s.key("v", key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", s.name, key, err)
	}
	return v, nil
}

func (s *LevelDBStore) Keys(_ context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix(s.prefix("o")), nil)
	defer it.Release()

	keys := []string{}
	for it.Next() {
		keys = append(keys, string(it.Value()))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("list %s: %w", s.name, err)
	}
	return keys, nil
}

func (s *LevelDBStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqb, err := s.db.Get(s.key("s", key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.name, key, err)
	}
	batch := new(leveldb.Batch)
	batch.Delete(s.key("v", key))
	batch.Delete(s.key("s", key))
	if len(seqb) == 8 {
		batch.Delete(s.orderKey(binary.BigEndian.Uint64(seqb)))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.name, key, err)
	}
	return nil
}
