// Package store keeps an off-chain SQL index of settlements, an audit trail
// of committed events and gateway idempotency records.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrIdempotencyMismatch is returned when a key is replayed with a different request.
	ErrIdempotencyMismatch = errors.New("store: idempotency key reused with different request")
)

// Store wraps the gorm handle.
type Store struct {
	db *gorm.DB
}

// Open connects to driver/dsn and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		if strings.TrimSpace(dsn) == "" {
			dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("store: nil db")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the pooled connections.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveReceipt inserts a receipt. A second receipt for the same position is ignored.
func (s *Store) SaveReceipt(ctx context.Context, receipt *Receipt) error {
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "position_id"}}, DoNothing: true}).
		Create(receipt).Error
}

func (s *Store) Receipt(ctx context.Context, positionID uint64) (*Receipt, error) {
	var receipt Receipt
	err := s.db.WithContext(ctx).Where("position_id = ?", positionID).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ReceiptsFor lists receipts where addr was tenant or landlord, newest first.
func (s *Store) ReceiptsFor(ctx context.Context, addr string, limit int) ([]Receipt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Receipt
	err := s.db.WithContext(ctx).
		Where("tenant = ? OR landlord = ?", addr, addr).
		Order("sequence desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AppendAudit stores an audit entry. Replayed sequences are ignored.
func (s *Store) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "sequence"}}, DoNothing: true}).
		Create(entry).Error
}

// Record writes an audit entry and, when non-nil, its receipt in one
// transaction. Replays of either are ignored.
func (s *Store) Record(ctx context.Context, entry *AuditEntry, receipt *Receipt) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := &Store{db: tx}
		if err := scoped.AppendAudit(ctx, entry); err != nil {
			return err
		}
		if receipt == nil {
			return nil
		}
		return scoped.SaveReceipt(ctx, receipt)
	})
}

// LastSequence returns the highest indexed event sequence, zero when empty.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	var last uint64
	err := s.db.WithContext(ctx).
		Model(&AuditEntry{}).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	return last, err
}

// Audit returns entries after the given sequence in order.
func (s *Store) Audit(ctx context.Context, after uint64, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []AuditEntry
	err := s.db.WithContext(ctx).
		Where("sequence > ?", after).
		Order("sequence asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// LookupIdempotency returns the stored record for key. A record created from
// a different request hash yields ErrIdempotencyMismatch.
func (s *Store) LookupIdempotency(ctx context.Context, key, requestHash string) (*IdempotencyKey, error) {
	var record IdempotencyKey
	err := s.db.WithContext(ctx).Where(&IdempotencyKey{Key: key}).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if record.RequestHash != requestHash {
		return nil, ErrIdempotencyMismatch
	}
	return &record, nil
}

// SaveIdempotency records the response for key. The first writer wins.
func (s *Store) SaveIdempotency(ctx context.Context, record *IdempotencyKey) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record).Error
}
