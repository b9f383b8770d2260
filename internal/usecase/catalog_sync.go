package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
)

// CatalogDocument is the declarative catalog kept in configs/catalog.yaml.
type CatalogDocument struct {
	Plans    []PlanEntry    `yaml:"plans"`
	Products []ProductEntry `yaml:"products"`
	Events   []EventEntry   `yaml:"events"`
}

type PlanEntry struct {
	Name              string                 `yaml:"name"`
	Description       string                 `yaml:"description"`
	ExternalPriceID   string                 `yaml:"external_price_id"`
	ExternalProductID string                 `yaml:"external_product_id"`
	PriceAmount       int64                  `yaml:"price_amount"`
	Currency          string                 `yaml:"currency"`
	Interval          string                 `yaml:"interval"`
	IntervalCount     int                    `yaml:"interval_count"`
	IncludedCredits   int64                  `yaml:"included_credits"`
	MaxUsers          *int                   `yaml:"max_users"`
	TrialPeriodDays   int                    `yaml:"trial_period_days"`
	Features          map[string]interface{} `yaml:"features"`
	Inactive          bool                   `yaml:"inactive"`
}

type ProductEntry struct {
	Name              string `yaml:"name"`
	Description       string `yaml:"description"`
	ExternalPriceID   string `yaml:"external_price_id"`
	ExternalProductID string `yaml:"external_product_id"`
	CreditAmount      int64  `yaml:"credit_amount"`
	PriceAmount       int64  `yaml:"price_amount"`
	Currency          string `yaml:"currency"`
	Inactive          bool   `yaml:"inactive"`
}

type EventEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	CreditCost  int64  `yaml:"credit_cost"`
	Category    string `yaml:"category"`
	Inactive    bool   `yaml:"inactive"`
}

// CatalogSyncReport counts what a sync wrote.
type CatalogSyncReport struct {
	Plans    int
	Products int
	Events   int
}

// ParseCatalog decodes a catalog document. Unknown keys are rejected.
func ParseCatalog(data []byte) (*CatalogDocument, error) {
	var doc CatalogDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, domainErrors.NewValidationError("catalog", "invalid catalog document: %v", err)
	}

	for i, p := range doc.Plans {
		if p.Name == "" {
			return nil, domainErrors.NewValidationError("plans", "entry %d has no name", i)
		}
		switch model.PlanInterval(p.Interval) {
		case "", model.PlanIntervalMonthly, model.PlanIntervalAnnual:
		default:
			return nil, domainErrors.NewValidationError("interval", "plan %s has unknown interval '%s'", p.Name, p.Interval)
		}
	}
	for i, p := range doc.Products {
		if p.Name == "" {
			return nil, domainErrors.NewValidationError("products", "entry %d has no name", i)
		}
	}
	for i, e := range doc.Events {
		if e.Name == "" {
			return nil, domainErrors.NewValidationError("events", "entry %d has no name", i)
		}
	}
	return &doc, nil
}

func currencyOrDefault(c string) string {
	if c == "" {
		return "usd"
	}
	return c
}

func (p PlanEntry) toModel() *model.SubscriptionPlan {
	interval := model.PlanInterval(p.Interval)
	if interval == "" {
		interval = model.PlanIntervalMonthly
	}
	count := p.IntervalCount
	if count == 0 {
		count = 1
	}
	return &model.SubscriptionPlan{
		Name:              p.Name,
		Description:       p.Description,
		ExternalPriceID:   optionalString(p.ExternalPriceID),
		ExternalProductID: optionalString(p.ExternalProductID),
		PriceAmount:       p.PriceAmount,
		Currency:          currencyOrDefault(p.Currency),
		Interval:          interval,
		IntervalCount:     count,
		IncludedCredits:   p.IncludedCredits,
		MaxUsers:          p.MaxUsers,
		Features:          model.JSONB(p.Features),
		IsActive:          !p.Inactive,
		TrialPeriodDays:   p.TrialPeriodDays,
	}
}

// Sync upserts every entry of doc by name. It stops at the first failure;
// entries written before it stay written.
func (s *CatalogService) Sync(ctx context.Context, doc *CatalogDocument) (*CatalogSyncReport, error) {
	report := &CatalogSyncReport{}

	for _, p := range doc.Plans {
		if err := s.UpsertPlan(ctx, p.toModel()); err != nil {
			return report, fmt.Errorf("plan %s: %w", p.Name, err)
		}
		report.Plans++
	}
	for _, p := range doc.Products {
		product := &model.CreditProduct{
			Name:              p.Name,
			Description:       p.Description,
			ExternalPriceID:   optionalString(p.ExternalPriceID),
			ExternalProductID: optionalString(p.ExternalProductID),
			CreditAmount:      p.CreditAmount,
			PriceAmount:       p.PriceAmount,
			Currency:          currencyOrDefault(p.Currency),
			IsActive:          !p.Inactive,
		}
		if err := s.UpsertProduct(ctx, product); err != nil {
			return report, fmt.Errorf("product %s: %w", p.Name, err)
		}
		report.Products++
	}
	for _, e := range doc.Events {
		event := &model.CreditEvent{
			Name:        e.Name,
			Description: e.Description,
			CreditCost:  e.CreditCost,
			Category:    e.Category,
			IsActive:    !e.Inactive,
		}
		if err := s.UpsertEvent(ctx, event); err != nil {
			return report, fmt.Errorf("event %s: %w", e.Name, err)
		}
		report.Events++
	}

	s.logger.Info("Catalog synced",
		zap.Int("plans", report.Plans),
		zap.Int("products", report.Products),
		zap.Int("events", report.Events))
	return report, nil
}
