package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"dework/storage"
)

var (
	// ErrTxClosed is returned when a committed or discarded transaction is reused.
	ErrTxClosed = errors.New("state: transaction closed")
	// ErrTxActive is returned when Begin is called while another writer holds the manager.
	ErrTxActive = errors.New("state: write transaction already active")
)

// Manager provides journaled access to the node key-value state. Every
// mutation is staged inside a Tx and reaches the database only on Commit, as a
// single batch, which gives each operation all-or-nothing semantics.
type Manager struct {
	db storage.Database

	mu     sync.Mutex
	active bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a write transaction. Only one write transaction may be open at a
// time; the node serialises operations so contention indicates a bug.
func (m *Manager) Begin() (*Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return nil, ErrTxActive
	}
	m.active = true
	return &Tx{
		manager: m,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}, nil
}

// View opens a read-only transaction. Writes staged on it are never committed.
func (m *Manager) View() *Tx {
	return &Tx{
		manager:  m,
		readOnly: true,
		writes:   make(map[string][]byte),
		deletes:  make(map[string]struct{}),
	}
}

func (m *Manager) release() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// Tx stages reads and writes against the manager's database.
type Tx struct {
	manager  *Manager
	readOnly bool
	closed   bool
	writes   map[string][]byte
	deletes  map[string]struct{}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (tx *Tx) get(hashed []byte) ([]byte, bool, error) {
	if tx.closed {
		return nil, false, ErrTxClosed
	}
	k := string(hashed)
	if _, deleted := tx.deletes[k]; deleted {
		return nil, false, nil
	}
	if v, ok := tx.writes[k]; ok {
		return v, true, nil
	}
	data, err := tx.manager.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	k := string(kvKey(key))
	delete(tx.deletes, k)
	tx.writes[k] = encoded
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := tx.get(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the supplied key.
func (tx *Tx) KVDelete(key []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	k := string(kvKey(key))
	delete(tx.writes, k)
	tx.deletes[k] = struct{}{}
	return nil
}

// Dirty reports whether the transaction staged any mutation.
func (tx *Tx) Dirty() bool {
	return len(tx.writes) > 0 || len(tx.deletes) > 0
}

// Commit flushes staged writes as a single batch and closes the transaction.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	if tx.readOnly {
		tx.closed = true
		return fmt.Errorf("state: cannot commit read-only transaction")
	}
	defer tx.close()
	if !tx.Dirty() {
		return nil
	}
	deletes := make([][]byte, 0, len(tx.deletes))
	for k := range tx.deletes {
		deletes = append(deletes, []byte(k))
	}
	return tx.manager.db.Write(tx.writes, deletes)
}

// Discard drops staged writes. Discarding a closed transaction is a no-op so
// callers can defer it unconditionally.
func (tx *Tx) Discard() {
	if tx.closed {
		return
	}
	tx.close()
}

func (tx *Tx) close() {
	tx.closed = true
	tx.writes = nil
	tx.deletes = nil
	if !tx.readOnly {
		tx.manager.release()
	}
}
