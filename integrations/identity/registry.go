package identity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"dework/crypto"
)

var (
	bucketVerifications = []byte("verifications")
	bucketNullifiers    = []byte("nullifiers")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("identity: record not found")
	// ErrNullifierConflict is returned when a proof nullifier is already bound to another address.
	ErrNullifierConflict = errors.New("identity: nullifier bound to a different address")
	ErrInvalidRecord     = errors.New("identity: provider and nullifier required")
)

// Record is the verification metadata kept per address.
type Record struct {
	Address       string    `json:"address"`
	Provider      string    `json:"provider"`
	NullifierHash string    `json:"nullifierHash"`
	VerifiedAt    time.Time `json:"verifiedAt"`
}

// Registry persists verification records in BoltDB. A nullifier can verify a
// single address, so one person cannot verify many wallets.
type Registry struct {
	db    *bolt.DB
	nowFn func() time.Time
}

// OpenRegistry initialises (and migrates) the BoltDB-backed registry.
func OpenRegistry(path string, options *bolt.Options) (*Registry, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketVerifications, bucketNullifiers} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Registry{db: db, nowFn: time.Now}, nil
}

// Close releases the underlying Bolt database handle.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func addrKey(addr crypto.Address) []byte {
	return []byte(strings.ToLower(addr.Hex()))
}

func nullifierKey(hash string) []byte {
	return []byte(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(hash), "0x")))
}

// MarkVerified records a successful proof for addr. Re-verifying with the
// same nullifier keeps the original timestamp.
func (r *Registry) MarkVerified(addr crypto.Address, provider, nullifierHash string) (Record, error) {
	provider = strings.TrimSpace(provider)
	nKey := nullifierKey(nullifierHash)
	if provider == "" || len(nKey) == 0 {
		return Record{}, ErrInvalidRecord
	}
	aKey := addrKey(addr)
	var record Record
	err := r.db.Update(func(tx *bolt.Tx) error {
		nullifiers := tx.Bucket(bucketNullifiers)
		if bound := nullifiers.Get(nKey); bound != nil && string(bound) != string(aKey) {
			return ErrNullifierConflict
		}
		verifications := tx.Bucket(bucketVerifications)
		if raw := verifications.Get(aKey); raw != nil {
			var existing Record
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			if string(nullifierKey(existing.NullifierHash)) == string(nKey) {
				record = existing
				record.Provider = provider
			} else if err := nullifiers.Delete(nullifierKey(existing.NullifierHash)); err != nil {
				return err
			}
		}
		if record.VerifiedAt.IsZero() {
			record = Record{
				Address:       addr.Hex(),
				Provider:      provider,
				NullifierHash: string(nKey),
				VerifiedAt:    r.nowFn().UTC(),
			}
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := verifications.Put(aKey, payload); err != nil {
			return err
		}
		return nullifiers.Put(nKey, aKey)
	})
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// Revoke removes the verification of addr and frees its nullifier.
func (r *Registry) Revoke(addr crypto.Address) error {
	aKey := addrKey(addr)
	return r.db.Update(func(tx *bolt.Tx) error {
		verifications := tx.Bucket(bucketVerifications)
		raw := verifications.Get(aKey)
		if raw == nil {
			return ErrNotFound
		}
		var existing Record
		if err := json.Unmarshal(raw, &existing); err != nil {
			return err
		}
		if err := tx.Bucket(bucketNullifiers).Delete(nullifierKey(existing.NullifierHash)); err != nil {
			return err
		}
		return verifications.Delete(aKey)
	})
}

// Get fetches a snapshot of the verification record, if present.
func (r *Registry) Get(addr crypto.Address) (Record, bool, error) {
	var record Record
	found := false
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketVerifications).Get(addrKey(addr))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return Record{}, false, err
	}
	return record, found, nil
}

// IsVerified implements Gate.
func (r *Registry) IsVerified(_ context.Context, addr crypto.Address) (bool, error) {
	_, ok, err := r.Get(addr)
	return ok, err
}
