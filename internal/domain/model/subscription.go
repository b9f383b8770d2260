package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionStatus is the state of an organization's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrial             SubscriptionStatus = "trial"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled         SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired           SubscriptionStatus = "expired"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusTrial:      {SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCancelled, SubscriptionStatusExpired},
	SubscriptionStatusActive:     {SubscriptionStatusPastDue, SubscriptionStatusCancelled, SubscriptionStatusExpired},
	SubscriptionStatusPastDue:    {SubscriptionStatusActive, SubscriptionStatusCancelled, SubscriptionStatusExpired},
	SubscriptionStatusIncomplete: {SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCancelled},
}

// CanTransitionTo reports whether the state machine allows moving from s to next
// within one gateway subscription. Any state may fall into incomplete or
// incomplete_expired; cancelled, expired and incomplete_expired are terminal.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == SubscriptionStatusIncomplete || next == SubscriptionStatusIncompleteExpired {
		return true
	}
	for _, allowed := range subscriptionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s SubscriptionStatus) IsTerminal() bool {
	switch s {
	case SubscriptionStatusCancelled, SubscriptionStatusExpired, SubscriptionStatusIncompleteExpired:
		return true
	}
	return false
}

// Accrues reports whether the status earns period credits without a payment.
func (s SubscriptionStatus) Accrues() bool {
	return s == SubscriptionStatusTrial || s == SubscriptionStatusActive
}

// HoldsPlanCredits reports whether the balance currently reflects the plan's
// included credits, so a plan change must reset it.
func (s SubscriptionStatus) HoldsPlanCredits() bool {
	return s.Accrues() || s == SubscriptionStatusPastDue
}

// PlanInterval is the billing interval of a plan.
type PlanInterval string

const (
	PlanIntervalMonthly PlanInterval = "monthly"
	PlanIntervalAnnual  PlanInterval = "annual"
)

// SubscriptionPlan is a catalog entry. Once a live subscription references it,
// only administrative metadata may change.
type SubscriptionPlan struct {
	ID                uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string       `gorm:"not null;size:200;uniqueIndex" json:"name"`
	Description       string       `json:"description"`
	ExternalPriceID   *string      `gorm:"size:255;uniqueIndex" json:"external_price_id,omitempty"`
	ExternalProductID *string      `gorm:"size:255" json:"external_product_id,omitempty"`
	PriceAmount       int64        `gorm:"not null" json:"price_amount"`
	Currency          string       `gorm:"not null;size:3;default:'usd'" json:"currency"`
	Interval          PlanInterval `gorm:"not null;size:16;default:'monthly'" json:"interval"`
	IntervalCount     int          `gorm:"not null;default:1" json:"interval_count"`
	IncludedCredits   int64        `gorm:"not null;default:0" json:"included_credits"`
	MaxUsers          *int         `json:"max_users,omitempty"`
	Features          JSONB        `gorm:"type:jsonb" json:"features,omitempty"`
	IsActive          bool         `gorm:"not null" json:"is_active"`
	TrialPeriodDays   int          `gorm:"not null;default:0" json:"trial_period_days"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (p *SubscriptionPlan) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PeriodEnd returns the end of a billing period starting at start.
func (p *SubscriptionPlan) PeriodEnd(start time.Time) time.Time {
	count := p.IntervalCount
	if count < 1 {
		count = 1
	}
	if p.Interval == PlanIntervalAnnual {
		return start.AddDate(count, 0, 0)
	}
	return start.AddDate(0, count, 0)
}

// TableName specifies the table name for GORM
func (SubscriptionPlan) TableName() string {
	return "subscription_plans"
}

// OrganizationSubscription is the single subscription of an organization.
// Cancellation is a status, rows are never deleted.
type OrganizationSubscription struct {
	ID                     uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID         uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex" json:"organization_id"`
	PlanID                 uuid.UUID          `gorm:"type:uuid;not null;index" json:"plan_id"`
	ExternalSubscriptionID *string            `gorm:"size:255;uniqueIndex" json:"external_subscription_id,omitempty"`
	ExternalCustomerID     *string            `gorm:"size:255;index" json:"external_customer_id,omitempty"`
	Status                 SubscriptionStatus `gorm:"not null;size:32;index" json:"status"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	TrialStart             *time.Time         `json:"trial_start,omitempty"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty"`
	CancelAtPeriodEnd      bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
	LastEventAt            *time.Time         `json:"last_event_at,omitempty"`
	Metadata               JSONB              `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

func (s *OrganizationSubscription) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// metadataDowngradeGrace holds the period end (unix seconds) until which a
// downgrade keeps cancel_at_period_end set.
const metadataDowngradeGrace = "downgrade_grace_until"

// MarkDowngradeGrace sets cancel_at_period_end for the rest of the current period.
func (s *OrganizationSubscription) MarkDowngradeGrace() {
	s.CancelAtPeriodEnd = true
	if s.CurrentPeriodEnd == nil {
		return
	}
	if s.Metadata == nil {
		s.Metadata = JSONB{}
	}
	s.Metadata[metadataDowngradeGrace] = s.CurrentPeriodEnd.Unix()
}

// InDowngradeGrace reports whether a downgrade grace marker covers the current period.
func (s *OrganizationSubscription) InDowngradeGrace() bool {
	if s.CurrentPeriodEnd == nil || s.Metadata == nil {
		return false
	}
	until, ok := s.Metadata[metadataDowngradeGrace]
	if !ok {
		return false
	}
	switch v := until.(type) {
	case int64:
		return v == s.CurrentPeriodEnd.Unix()
	case float64:
		return int64(v) == s.CurrentPeriodEnd.Unix()
	}
	return false
}

// ClearDowngradeGrace drops the grace marker.
func (s *OrganizationSubscription) ClearDowngradeGrace() {
	if s.Metadata != nil {
		delete(s.Metadata, metadataDowngradeGrace)
	}
}

// TableName specifies the table name for GORM
func (OrganizationSubscription) TableName() string {
	return "organization_subscriptions"
}
