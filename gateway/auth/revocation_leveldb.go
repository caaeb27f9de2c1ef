package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	revokedKeyPrefix = "revoked:"
	expiryKeyPrefix  = "expiry:"
)

// LevelDBRevocations persists revoked token ids until they expire.
type LevelDBRevocations struct {
	db *leveldb.DB
}

// NewLevelDBRevocations opens (or creates) a LevelDB database at path.
func NewLevelDBRevocations(path string) (*LevelDBRevocations, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb revocation path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb revocation path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb revocation store: %w", err)
	}
	return &LevelDBRevocations{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (p *LevelDBRevocations) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Revoke records id until expiresAt. Revoking twice keeps the later expiry.
func (p *LevelDBRevocations) Revoke(id string, expiresAt time.Time) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("leveldb revocations not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("token id required")
	}
	nanos := expiresAt.UTC().UnixNano()
	revokedKey := []byte(revokedKeyPrefix + id)
	batch := new(leveldb.Batch)
	existing, err := p.db.Get(revokedKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load revocation: %w", err)
	default:
		previous := int64(binary.BigEndian.Uint64(existing))
		if previous >= nanos {
			return nil
		}
		batch.Delete([]byte(expiryKey(previous, id)))
	}
	batch.Put(revokedKey, encodeUnixNano(nanos))
	batch.Put([]byte(expiryKey(nanos, id)), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return fmt.Errorf("record revocation: %w", err)
	}
	return nil
}

// IsRevoked reports whether id was revoked and not yet pruned.
func (p *LevelDBRevocations) IsRevoked(id string) (bool, error) {
	if p == nil || p.db == nil {
		return false, fmt.Errorf("leveldb revocations not configured")
	}
	return p.db.Has([]byte(revokedKeyPrefix+strings.TrimSpace(id)), nil)
}

// Prune deletes revocations whose token expired before cutoff and reports
// how many were removed.
func (p *LevelDBRevocations) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if p == nil || p.db == nil {
		return 0, fmt.Errorf("leveldb revocations not configured")
	}
	cutoffKey := []byte(expiryKey(cutoff.UTC().UnixNano(), ""))
	iter := p.db.NewIterator(&util.Range{Start: []byte(expiryKeyPrefix), Limit: cutoffKey}, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	removed := 0
	for iter.Next() {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		id, _, ok := parseExpiryKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(revokedKeyPrefix + id))
		removed++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterate revocations: %w", err)
	}
	if batch.Len() > 0 {
		if err := p.db.Write(batch, nil); err != nil {
			return 0, fmt.Errorf("prune revocations: %w", err)
		}
	}
	return removed, nil
}

// RunPruner prunes expired revocations every interval until ctx ends.
func (p *LevelDBRevocations) RunPruner(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := p.Prune(ctx, now); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

func expiryKey(nanos int64, id string) string {
	return fmt.Sprintf("%s%020d:%s", expiryKeyPrefix, nanos, id)
}

func parseExpiryKey(key []byte) (string, int64, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}
