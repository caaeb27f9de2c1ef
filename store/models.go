package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Receipt is the settled distribution of one position. Amounts are decimal
// strings in token base units.
type Receipt struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PositionID     uint64    `gorm:"uniqueIndex" json:"positionId"`
	Sequence       uint64    `gorm:"index" json:"sequence"`
	Path           string    `gorm:"size:32;index" json:"path"`
	Tenant         string    `gorm:"size:42;index" json:"tenant"`
	Landlord       string    `gorm:"size:42;index" json:"landlord"`
	Principal      string    `gorm:"size:80" json:"principal"`
	Value          string    `gorm:"size:80" json:"value"`
	Fee            string    `gorm:"size:80" json:"fee"`
	TenantAmount   string    `gorm:"size:80" json:"tenantAmount"`
	LandlordAmount string    `gorm:"size:80" json:"landlordAmount"`
	SettledAt      time.Time `gorm:"index" json:"settledAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AuditEntry mirrors every committed event.
type AuditEntry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	PositionID *uint64   `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	OccurredAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// IdempotencyKey stores the first response produced for a client key.
type IdempotencyKey struct {
	Key         string `gorm:"primaryKey;size:200"`
	Subject     string `gorm:"size:64"`
	Method      string `gorm:"size:8"`
	Path        string `gorm:"size:255"`
	RequestHash string `gorm:"size:64"`
	Status      int
	Response    string `gorm:"type:text"`
	CreatedAt   time.Time
}

// AutoMigrate performs all schema migrations for the store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Receipt{},
		&AuditEntry{},
		&IdempotencyKey{},
	)
}
