package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// FormatAmount renders an amount in minor currency units as a decimal string.
func FormatAmount(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// PlanDTO represents a subscription plan for API responses
type PlanDTO struct {
	ID              uuid.UUID              `json:"id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	PriceAmount     int64                  `json:"price_amount"`
	PriceDecimal    string                 `json:"price_decimal"`
	Currency        string                 `json:"currency"`
	Interval        string                 `json:"interval"`
	IntervalCount   int                    `json:"interval_count"`
	IncludedCredits int64                  `json:"included_credits"`
	MaxUsers        *int                   `json:"max_users,omitempty"`
	TrialPeriodDays int                    `json:"trial_period_days"`
	Features        map[string]interface{} `json:"features,omitempty"`
}

// NewPlanDTO converts a plan for API responses.
func NewPlanDTO(p model.SubscriptionPlan) PlanDTO {
	return PlanDTO{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		PriceAmount:     p.PriceAmount,
		PriceDecimal:    FormatAmount(p.PriceAmount),
		Currency:        p.Currency,
		Interval:        string(p.Interval),
		IntervalCount:   p.IntervalCount,
		IncludedCredits: p.IncludedCredits,
		MaxUsers:        p.MaxUsers,
		TrialPeriodDays: p.TrialPeriodDays,
		Features:        p.Features,
	}
}

// CreditProductDTO represents a credit pack for API responses
type CreditProductDTO struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreditAmount int64     `json:"credit_amount"`
	PriceAmount  int64     `json:"price_amount"`
	PriceDecimal string    `json:"price_decimal"`
	Currency     string    `json:"currency"`
}

// NewCreditProductDTO converts a credit product for API responses.
func NewCreditProductDTO(p model.CreditProduct) CreditProductDTO {
	return CreditProductDTO{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		CreditAmount: p.CreditAmount,
		PriceAmount:  p.PriceAmount,
		PriceDecimal: FormatAmount(p.PriceAmount),
		Currency:     p.Currency,
	}
}

// SubscriptionResponse is a subscription together with its plan.
type SubscriptionResponse struct {
	ID                     uuid.UUID  `json:"id"`
	OrganizationID         uuid.UUID  `json:"organization_id"`
	Status                 string     `json:"status"`
	ExternalSubscriptionID *string    `json:"external_subscription_id,omitempty"`
	CurrentPeriodStart     *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	TrialEnd               *time.Time `json:"trial_end,omitempty"`
	CancelAtPeriodEnd      bool       `json:"cancel_at_period_end"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	Plan                   *PlanDTO   `json:"plan,omitempty"`
}

// NewSubscriptionResponse converts a subscription and its plan for API responses.
func NewSubscriptionResponse(sub *model.OrganizationSubscription, plan *model.SubscriptionPlan) *SubscriptionResponse {
	resp := &SubscriptionResponse{
		ID:                     sub.ID,
		OrganizationID:         sub.OrganizationID,
		Status:                 string(sub.Status),
		ExternalSubscriptionID: sub.ExternalSubscriptionID,
		CurrentPeriodStart:     sub.CurrentPeriodStart,
		CurrentPeriodEnd:       sub.CurrentPeriodEnd,
		TrialEnd:               sub.TrialEnd,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		CancelledAt:            sub.CancelledAt,
	}
	if plan != nil {
		p := NewPlanDTO(*plan)
		resp.Plan = &p
	}
	return resp
}
