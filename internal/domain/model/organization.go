package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Organization is the billing tenant. CreditBalance is the cached sum of the
// organization's credit transactions and is written only by the ledger.
type Organization struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string    `gorm:"not null;size:200" json:"name"`
	Slug          string    `gorm:"not null;size:100;uniqueIndex" json:"slug"`
	CreditBalance int64     `gorm:"not null;default:0" json:"credit_balance"`
	BillingEmail  *string   `gorm:"size:320" json:"billing_email,omitempty"`
	IsActive      bool      `gorm:"not null;index" json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// TableName specifies the table name for GORM
func (Organization) TableName() string {
	return "organizations"
}
