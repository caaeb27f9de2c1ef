// Package storage provides the key-value backends that hold node state.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by every backend when a key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is the key-value surface the state layer commits through.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	// Write applies every put and delete as a single atomic batch.
	// Deletes are applied before puts.
	Write(puts map[string][]byte, deletes [][]byte) error
	Close()
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }

// MemDB keeps everything in a map. Used by tests and ephemeral nodes.
type MemDB struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{entries: map[string][]byte{}}
}

func (m *MemDB) Put(key []byte, value []byte) error {
	return m.Write(map[string][]byte{string(key): value}, nil)
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if value, ok := m.entries[string(key)]; ok {
		return clone(value), nil
	}
	return nil, ErrNotFound
}

func (m *MemDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	_, ok := m.entries[string(key)]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemDB) Delete(key []byte) error {
	return m.Write(nil, [][]byte{key})
}

func (m *MemDB) Write(puts map[string][]byte, deletes [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range deletes {
		delete(m.entries, string(key))
	}
	for key, value := range puts {
		m.entries[key] = clone(value)
	}
	return nil
}

// Len reports the number of stored keys.
func (m *MemDB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemDB) Close() {}

// LevelDB persists state on disk.
type LevelDB struct {
	db *leveldb.DB
}

var levelOptions = &opt.Options{
	BlockCacheCapacity: 8 * opt.MiB,
	WriteBuffer:        4 * opt.MiB,
}

// NewLevelDB opens or creates the database under path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, levelOptions)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Put(key []byte, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	return value, nil
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

// Delete is a no-op for absent keys.
func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Write(puts map[string][]byte, deletes [][]byte) error {
	var batch leveldb.Batch
	for _, key := range deletes {
		batch.Delete(key)
	}
	for key, value := range puts {
		batch.Put([]byte(key), value)
	}
	return l.db.Write(&batch, &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Close() {
	_ = l.db.Close()
}
