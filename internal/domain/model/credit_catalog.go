package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreditEvent names a billable action and what it costs in credits.
type CreditEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"not null;size:100;uniqueIndex" json:"name"`
	Description string    `json:"description"`
	CreditCost  int64     `gorm:"not null" json:"credit_cost"`
	Category    string    `gorm:"size:50" json:"category"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	Metadata    JSONB     `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e *CreditEvent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// TableName specifies the table name for GORM
func (CreditEvent) TableName() string {
	return "credit_events"
}

// CreditProduct is a one-time credit pack.
type CreditProduct struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string    `gorm:"not null;size:200;uniqueIndex" json:"name"`
	Description       string    `json:"description"`
	ExternalPriceID   *string   `gorm:"size:255;uniqueIndex" json:"external_price_id,omitempty"`
	ExternalProductID *string   `gorm:"size:255" json:"external_product_id,omitempty"`
	CreditAmount      int64     `gorm:"not null" json:"credit_amount"`
	PriceAmount       int64     `gorm:"not null" json:"price_amount"`
	Currency          string    `gorm:"not null;size:3;default:'usd'" json:"currency"`
	IsActive          bool      `gorm:"not null" json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (p *CreditProduct) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// TableName specifies the table name for GORM
func (CreditProduct) TableName() string {
	return "credit_products"
}
