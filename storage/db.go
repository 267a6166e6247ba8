package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// The ledger state is written exclusively through Write so that every
// operation lands atomically regardless of the backend.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Write(batch *Batch) error
	Close() // A way to gracefully shut down the database connection.
}

// Batch collects writes that must be applied together. Later puts to the same
// key replace earlier ones.
type Batch struct {
	writes map[string][]byte
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{writes: make(map[string][]byte)}
}

// Put stages a write.
func (b *Batch) Put(key, value []byte) {
	if b.writes == nil {
		b.writes = make(map[string][]byte)
	}
	b.writes[string(key)] = append([]byte(nil), value...)
}

// Len reports the number of staged keys.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.writes)
}

// Each visits the staged writes in key order.
func (b *Batch) Each(fn func(key, value []byte) error) error {
	if b == nil {
		return nil
	}
	keys := make([]string, 0, len(b.writes))
	for key := range b.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn([]byte(key), b.writes[key]); err != nil {
			return err
		}
	}
	return nil
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Write applies the batch under a single lock acquisition.
func (db *MemDB) Write(batch *Batch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return batch.Each(func(key, value []byte) error {
		db.data[string(key)] = value
		return nil
	})
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Write commits the batch through a leveldb batch, which is applied atomically.
func (ldb *LevelDB) Write(batch *Batch) error {
	lb := new(leveldb.Batch)
	_ = batch.Each(func(key, value []byte) error {
		lb.Put(key, value)
		return nil
	})
	return ldb.db.Write(lb, nil)
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
