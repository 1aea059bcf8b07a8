package reconcile

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Mirror entity statuses. Offers collapse their ledger flag bits into a single
// lifecycle string so anomaly reports stay readable.
const (
	StatusOpen      = "open"
	StatusApproved  = "approved"
	StatusPaid      = "paid"
	StatusFulfilled = "fulfilled"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"

	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusWithdrawn = "withdrawn"
)

// ConsignmentRecord mirrors one on-ledger consignment. Amounts are stored as
// decimal strings so base-unit values survive the round trip untruncated.
type ConsignmentRecord struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement:false"`
	Consigner       string `gorm:"size:40;index"`
	Token           string `gorm:"size:16;index"`
	TotalAmount     string `gorm:"size:80"`
	RemainingAmount string `gorm:"size:80"`
	Status          string `gorm:"size:16;index"`
	LedgerCreatedAt int64
	// Available is cleared when the row is known to have diverged from the
	// ledger; consumers must not serve an unavailable row.
	Available bool `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OfferRecord mirrors one on-ledger offer.
type OfferRecord struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement:false"`
	ConsignmentID uint64 `gorm:"index"`
	Beneficiary   string `gorm:"size:40;index"`
	Token         string `gorm:"size:16;index"`
	TokenAmount   string `gorm:"size:80"`
	DiscountBps   uint16
	Currency      string `gorm:"size:8"`
	Status        string `gorm:"size:16;index"`
	Payer         string `gorm:"size:40"`
	AmountPaid    string `gorm:"size:80"`
	UnlockTime    int64
	Available     bool `gorm:"default:true"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AnomalyRecord is the durable audit trail of reconciliation findings.
type AnomalyRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind       string    `gorm:"size:32;index"`
	EntityKind string    `gorm:"size:16"`
	EntityID   uint64    `gorm:"index"`
	Token      string    `gorm:"size:16"`
	Details    string    `gorm:"size:512"`
	CreatedAt  time.Time
}

// AutoMigrate creates or upgrades the mirror schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ConsignmentRecord{}, &OfferRecord{}, &AnomalyRecord{})
}
