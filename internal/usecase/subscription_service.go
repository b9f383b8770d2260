package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/domain/provider"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
)

// CreateSubscriptionInput describes a new subscription. Zero fields are derived
// from the plan.
type CreateSubscriptionInput struct {
	OrganizationID         uuid.UUID
	PlanID                 uuid.UUID
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Status                 model.SubscriptionStatus
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
	EventAt                *time.Time
}

// RenewInput starts a new paid billing period.
type RenewInput struct {
	OrganizationID uuid.UUID
	PeriodStart    time.Time
	PeriodEnd      time.Time
	PlanID         *uuid.UUID
}

// SubscriptionSnapshot is the gateway's view of a subscription at EventAt.
type SubscriptionSnapshot struct {
	OrganizationID         uuid.UUID
	PlanID                 uuid.UUID
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Status                 model.SubscriptionStatus
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
	CanceledAt             *time.Time
	EventAt                time.Time
}

// SubscriptionService owns the subscription state machine. Credit effects go
// through the LedgerService.
type SubscriptionService struct {
	subscriptionRepo domainRepo.SubscriptionRepository
	catalogRepo      domainRepo.CatalogRepository
	ledger           *LedgerService
	gateway          provider.PaymentGateway
	logger           *zap.Logger
	locks            *orgLocker
	now              func() time.Time
}

// NewSubscriptionService creates a new subscription service instance
func NewSubscriptionService(
	subscriptionRepo domainRepo.SubscriptionRepository,
	catalogRepo domainRepo.CatalogRepository,
	ledger *LedgerService,
	gateway provider.PaymentGateway,
	logger *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		subscriptionRepo: subscriptionRepo,
		catalogRepo:      catalogRepo,
		ledger:           ledger,
		gateway:          gateway,
		logger:           logger,
		locks:            newOrgLocker(),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// PeriodReference is the idempotency key of a period's credit allocation.
func PeriodReference(subscriptionID uuid.UUID, periodStart time.Time) string {
	return fmt.Sprintf("subscription:%s:period:%d", subscriptionID, periodStart.Unix())
}

func (s *SubscriptionService) loadPlan(ctx context.Context, planID uuid.UUID) (*model.SubscriptionPlan, error) {
	plan, err := s.catalogRepo.GetPlan(ctx, planID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_plan", err)
	}
	if plan == nil {
		return nil, domainErrors.NewNotFoundError("subscription_plan", planID.String())
	}
	return plan, nil
}

func (s *SubscriptionService) load(ctx context.Context, orgID uuid.UUID) (*model.OrganizationSubscription, error) {
	sub, err := s.subscriptionRepo.GetByOrganizationID(ctx, orgID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_subscription", err)
	}
	if sub == nil {
		return nil, domainErrors.NewNotFoundError("subscription", orgID.String())
	}
	return sub, nil
}

func (s *SubscriptionService) save(ctx context.Context, sub *model.OrganizationSubscription) error {
	if err := s.subscriptionRepo.Save(ctx, sub); err != nil {
		return domainErrors.AsExternal("database", "save_subscription", err)
	}
	return nil
}

// allocatePeriod grants the plan's included credits for the current period once.
func (s *SubscriptionService) allocatePeriod(ctx context.Context, sub *model.OrganizationSubscription, plan *model.SubscriptionPlan) error {
	if plan.IncludedCredits <= 0 || sub.CurrentPeriodStart == nil {
		return nil
	}
	_, err := s.ledger.AddCredits(ctx, AddCreditsInput{
		OrganizationID: sub.OrganizationID,
		Amount:         plan.IncludedCredits,
		Source:         model.SubscriptionSource(sub.ID),
		ExpiresAt:      sub.CurrentPeriodEnd,
		Description:    fmt.Sprintf("%s plan credits", plan.Name),
		ReferenceID:    PeriodReference(sub.ID, *sub.CurrentPeriodStart),
	})
	return err
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create starts the organization's subscription and allocates the first
// period's credits.
func (s *SubscriptionService) Create(ctx context.Context, in CreateSubscriptionInput) (*model.OrganizationSubscription, error) {
	unlock := s.locks.lock(in.OrganizationID)
	defer unlock()
	return s.create(ctx, in)
}

func (s *SubscriptionService) create(ctx context.Context, in CreateSubscriptionInput) (*model.OrganizationSubscription, error) {
	existing, err := s.subscriptionRepo.GetByOrganizationID(ctx, in.OrganizationID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_subscription", err)
	}
	if existing != nil {
		return nil, domainErrors.NewConflictError("organization %s already has a subscription", in.OrganizationID)
	}

	plan, err := s.loadPlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &model.OrganizationSubscription{
		OrganizationID:         in.OrganizationID,
		PlanID:                 plan.ID,
		ExternalSubscriptionID: strOrNil(in.ExternalSubscriptionID),
		ExternalCustomerID:     strOrNil(in.ExternalCustomerID),
		Status:                 in.Status,
		TrialStart:             in.TrialStart,
		TrialEnd:               in.TrialEnd,
		CancelAtPeriodEnd:      in.CancelAtPeriodEnd,
		LastEventAt:            in.EventAt,
	}
	if sub.Status == "" {
		sub.Status = model.SubscriptionStatusActive
		if plan.TrialPeriodDays > 0 {
			trialEnd := now.AddDate(0, 0, plan.TrialPeriodDays)
			sub.Status = model.SubscriptionStatusTrial
			sub.TrialStart = &now
			sub.TrialEnd = &trialEnd
		}
	}
	s.applyPeriod(sub, plan, in.PeriodStart, in.PeriodEnd, now)

	if err := s.subscriptionRepo.Create(ctx, sub); err != nil {
		return nil, domainErrors.AsExternal("database", "create_subscription", err)
	}

	s.logger.Info("Subscription created",
		zap.String("organization_id", sub.OrganizationID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("plan", plan.Name),
		zap.String("status", string(sub.Status)))

	if sub.Status.Accrues() {
		if err := s.allocatePeriod(ctx, sub, plan); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// applyPeriod sets the billing period, deriving missing bounds from the plan.
func (s *SubscriptionService) applyPeriod(sub *model.OrganizationSubscription, plan *model.SubscriptionPlan, start, end *time.Time, now time.Time) {
	periodStart := now
	if start != nil {
		periodStart = start.UTC()
	}
	var periodEnd time.Time
	if end != nil {
		periodEnd = end.UTC()
	} else {
		periodEnd = plan.PeriodEnd(periodStart)
	}
	sub.CurrentPeriodStart = &periodStart
	sub.CurrentPeriodEnd = &periodEnd
}

// CreateFreeSubscription subscribes an organization to a zero-price plan
// without going through checkout.
func (s *SubscriptionService) CreateFreeSubscription(ctx context.Context, orgID, planID uuid.UUID) (*model.OrganizationSubscription, error) {
	plan, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.PriceAmount > 0 {
		return nil, domainErrors.NewValidationError("plan_id", "plan %s is paid and requires checkout", plan.Name)
	}
	if !plan.IsActive {
		return nil, domainErrors.NewValidationError("plan_id", "plan %s is not available", plan.Name)
	}
	return s.Create(ctx, CreateSubscriptionInput{
		OrganizationID: orgID,
		PlanID:         planID,
		Status:         model.SubscriptionStatusActive,
	})
}

// ChangePlan moves the subscription to another plan and resets the balance to
// the new plan's included credits. A downgrade keeps cancel_at_period_end set
// for the rest of the period.
func (s *SubscriptionService) ChangePlan(ctx context.Context, orgID, newPlanID uuid.UUID) (*model.OrganizationSubscription, error) {
	unlock := s.locks.lock(orgID)
	defer unlock()

	sub, err := s.load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if sub.PlanID == newPlanID {
		return sub, nil
	}
	if sub.Status.IsTerminal() {
		return nil, domainErrors.NewConflictError("subscription is %s and cannot change plan", sub.Status)
	}
	if err := s.applyPlanChange(ctx, sub, newPlanID); err != nil {
		return nil, err
	}
	return sub, nil
}

// applyPlanChange resets the balance to the new plan's included credits, sets
// the downgrade grace when credits shrink and saves sub. The caller holds the
// organization lock.
func (s *SubscriptionService) applyPlanChange(ctx context.Context, sub *model.OrganizationSubscription, newPlanID uuid.UUID) error {
	orgID := sub.OrganizationID
	oldPlan, err := s.loadPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	newPlan, err := s.loadPlan(ctx, newPlanID)
	if err != nil {
		return err
	}

	// Reset before persisting the plan so a replay after a partial failure
	// repeats the (then no-op) reset instead of skipping it. An incomplete
	// subscription never received credits; activation allocates them.
	if sub.Status.HoldsPlanCredits() {
		_, err = s.ledger.ResetCredits(ctx, ResetCreditsInput{
			OrganizationID: orgID,
			TargetAmount:   newPlan.IncludedCredits,
			Source:         model.SubscriptionSource(sub.ID),
			ExpiresAt:      sub.CurrentPeriodEnd,
		})
		if err != nil {
			return err
		}
	}

	sub.PlanID = newPlan.ID
	if newPlan.IncludedCredits < oldPlan.IncludedCredits {
		sub.MarkDowngradeGrace()
	}
	if err := s.save(ctx, sub); err != nil {
		return err
	}

	s.logger.Info("Subscription plan changed",
		zap.String("organization_id", orgID.String()),
		zap.String("from_plan", oldPlan.Name),
		zap.String("to_plan", newPlan.Name),
		zap.Bool("cancel_at_period_end", sub.CancelAtPeriodEnd))
	return nil
}

// Renew records a paid billing period and allocates its credits exactly once.
// An invoice billed on another plan applies the plan change to the closing
// period first, the same way a subscription update arriving ahead of the
// invoice would.
func (s *SubscriptionService) Renew(ctx context.Context, in RenewInput) (*model.OrganizationSubscription, error) {
	unlock := s.locks.lock(in.OrganizationID)
	defer unlock()

	sub, err := s.load(ctx, in.OrganizationID)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, domainErrors.NewConflictError("subscription is %s and cannot be renewed", sub.Status)
	}

	if in.PlanID != nil && *in.PlanID != sub.PlanID {
		if err := s.applyPlanChange(ctx, sub, *in.PlanID); err != nil {
			return nil, err
		}
	}

	start, end := in.PeriodStart.UTC(), in.PeriodEnd.UTC()
	if sub.CurrentPeriodStart == nil || start.After(*sub.CurrentPeriodStart) {
		sub.CancelAtPeriodEnd = false
		sub.ClearDowngradeGrace()
	}
	sub.CurrentPeriodStart = &start
	sub.CurrentPeriodEnd = &end
	if sub.Status == model.SubscriptionStatusPastDue {
		sub.Status = model.SubscriptionStatusActive
	}
	if err := s.save(ctx, sub); err != nil {
		return nil, err
	}

	plan, err := s.loadPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if err := s.allocatePeriod(ctx, sub, plan); err != nil {
		return nil, err
	}

	s.logger.Info("Subscription renewed",
		zap.String("organization_id", sub.OrganizationID.String()),
		zap.Time("period_start", start),
		zap.Time("period_end", end))
	return sub, nil
}

// Cancel ends the subscription at the given time. Remaining credits stay usable.
func (s *SubscriptionService) Cancel(ctx context.Context, orgID uuid.UUID, at time.Time) (*model.OrganizationSubscription, error) {
	unlock := s.locks.lock(orgID)
	defer unlock()

	sub, err := s.load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return sub, nil
	}

	at = at.UTC()
	sub.Status = model.SubscriptionStatusCancelled
	sub.CancelledAt = &at
	sub.CancelAtPeriodEnd = false
	sub.ClearDowngradeGrace()
	if err := s.save(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("Subscription cancelled",
		zap.String("organization_id", orgID.String()),
		zap.Time("cancelled_at", at))
	return sub, nil
}

func (s *SubscriptionService) setCancelAtPeriodEnd(ctx context.Context, orgID uuid.UUID, cancel bool) (*model.OrganizationSubscription, error) {
	unlock := s.locks.lock(orgID)
	defer unlock()

	sub, err := s.load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, domainErrors.NewConflictError("subscription is %s", sub.Status)
	}

	if sub.ExternalSubscriptionID != nil && s.gateway != nil {
		if err := s.gateway.SetCancelAtPeriodEnd(ctx, *sub.ExternalSubscriptionID, cancel); err != nil {
			return nil, domainErrors.AsExternal("stripe", "update_subscription", err)
		}
	}

	sub.CancelAtPeriodEnd = cancel
	if !cancel {
		sub.ClearDowngradeGrace()
	}
	if err := s.save(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ScheduleCancellation cancels the subscription at the end of the current period.
func (s *SubscriptionService) ScheduleCancellation(ctx context.Context, orgID uuid.UUID) (*model.OrganizationSubscription, error) {
	return s.setCancelAtPeriodEnd(ctx, orgID, true)
}

// Reactivate withdraws a scheduled cancellation. The status is unchanged.
func (s *SubscriptionService) Reactivate(ctx context.Context, orgID uuid.UUID) (*model.OrganizationSubscription, error) {
	return s.setCancelAtPeriodEnd(ctx, orgID, false)
}

// MarkPastDue records a failed renewal payment.
func (s *SubscriptionService) MarkPastDue(ctx context.Context, orgID uuid.UUID) (*model.OrganizationSubscription, error) {
	unlock := s.locks.lock(orgID)
	defer unlock()

	sub, err := s.load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if sub.Status == model.SubscriptionStatusPastDue {
		return sub, nil
	}
	if !sub.Status.CanTransitionTo(model.SubscriptionStatusPastDue) {
		s.logger.Warn("Ignoring past_due for subscription",
			zap.String("organization_id", orgID.String()),
			zap.String("status", string(sub.Status)))
		return sub, nil
	}

	sub.Status = model.SubscriptionStatusPastDue
	if err := s.save(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscription returns the organization's subscription with its plan.
func (s *SubscriptionService) GetSubscription(ctx context.Context, orgID uuid.UUID) (*dto.SubscriptionResponse, error) {
	sub, err := s.load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	plan, err := s.catalogRepo.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_plan", err)
	}
	return dto.NewSubscriptionResponse(sub, plan), nil
}

// SyncFromGateway applies a gateway snapshot: it creates the subscription,
// changes its plan or re-opens a terminated one as needed, then copies the
// status, period and trial fields. Snapshots older than the last applied event
// are ignored. Snapshots of one organization are applied one at a time.
func (s *SubscriptionService) SyncFromGateway(ctx context.Context, snap SubscriptionSnapshot) (*model.OrganizationSubscription, error) {
	if snap.EventAt.IsZero() {
		snap.EventAt = s.now()
	}
	eventAt := snap.EventAt.UTC()

	unlock := s.locks.lock(snap.OrganizationID)
	defer unlock()

	existing, err := s.subscriptionRepo.GetByOrganizationID(ctx, snap.OrganizationID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_subscription", err)
	}

	if existing == nil {
		created, err := s.create(ctx, CreateSubscriptionInput{
			OrganizationID:         snap.OrganizationID,
			PlanID:                 snap.PlanID,
			ExternalSubscriptionID: snap.ExternalSubscriptionID,
			ExternalCustomerID:     snap.ExternalCustomerID,
			Status:                 snap.Status,
			PeriodStart:            snap.PeriodStart,
			PeriodEnd:              snap.PeriodEnd,
			TrialStart:             snap.TrialStart,
			TrialEnd:               snap.TrialEnd,
			CancelAtPeriodEnd:      snap.CancelAtPeriodEnd,
			EventAt:                &eventAt,
		})
		if err == nil {
			return created, nil
		}
		// Another instance may have created the row first; apply the
		// snapshot to it instead.
		raced, lookupErr := s.subscriptionRepo.GetByOrganizationID(ctx, snap.OrganizationID)
		if lookupErr != nil || raced == nil {
			return nil, err
		}
		return s.applySnapshot(ctx, raced, snap, eventAt)
	}
	return s.applySnapshot(ctx, existing, snap, eventAt)
}

func (s *SubscriptionService) applySnapshot(ctx context.Context, existing *model.OrganizationSubscription, snap SubscriptionSnapshot, eventAt time.Time) (*model.OrganizationSubscription, error) {
	if existing.LastEventAt != nil && eventAt.Before(*existing.LastEventAt) {
		s.logger.Info("Skipping stale subscription snapshot",
			zap.String("organization_id", snap.OrganizationID.String()),
			zap.Time("event_at", eventAt),
			zap.Time("last_event_at", *existing.LastEventAt))
		return existing, nil
	}

	if existing.Status.IsTerminal() {
		if existing.ExternalSubscriptionID != nil && *existing.ExternalSubscriptionID == snap.ExternalSubscriptionID {
			return existing, nil
		}
		return s.reopen(ctx, existing, snap, eventAt)
	}

	if snap.PlanID != uuid.Nil && snap.PlanID != existing.PlanID {
		if err := s.applyPlanChange(ctx, existing, snap.PlanID); err != nil {
			return nil, err
		}
	}

	wasAccruing := existing.Status.Accrues()
	if snap.Status != "" && snap.Status != existing.Status {
		if existing.Status.CanTransitionTo(snap.Status) {
			existing.Status = snap.Status
		} else {
			s.logger.Warn("Ignoring invalid subscription transition",
				zap.String("organization_id", snap.OrganizationID.String()),
				zap.String("from", string(existing.Status)),
				zap.String("to", string(snap.Status)))
		}
	}

	if snap.PeriodStart != nil {
		start := snap.PeriodStart.UTC()
		existing.CurrentPeriodStart = &start
	}
	if snap.PeriodEnd != nil {
		end := snap.PeriodEnd.UTC()
		existing.CurrentPeriodEnd = &end
	}
	if snap.TrialStart != nil {
		existing.TrialStart = snap.TrialStart
	}
	if snap.TrialEnd != nil {
		existing.TrialEnd = snap.TrialEnd
	}
	if snap.ExternalSubscriptionID != "" {
		existing.ExternalSubscriptionID = &snap.ExternalSubscriptionID
	}
	if snap.ExternalCustomerID != "" {
		existing.ExternalCustomerID = &snap.ExternalCustomerID
	}

	switch {
	case snap.CancelAtPeriodEnd:
		existing.CancelAtPeriodEnd = true
	case existing.InDowngradeGrace():
		// the gateway does not know about the downgrade grace
	default:
		existing.CancelAtPeriodEnd = false
		existing.ClearDowngradeGrace()
	}

	if existing.Status == model.SubscriptionStatusCancelled && existing.CancelledAt == nil {
		at := eventAt
		if snap.CanceledAt != nil {
			at = snap.CanceledAt.UTC()
		}
		existing.CancelledAt = &at
	}
	existing.LastEventAt = &eventAt

	if err := s.save(ctx, existing); err != nil {
		return nil, err
	}

	if !wasAccruing && existing.Status.Accrues() {
		plan, err := s.loadPlan(ctx, existing.PlanID)
		if err != nil {
			return nil, err
		}
		if err := s.allocatePeriod(ctx, existing, plan); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// reopen reuses a terminated subscription row for a new gateway subscription.
func (s *SubscriptionService) reopen(ctx context.Context, sub *model.OrganizationSubscription, snap SubscriptionSnapshot, eventAt time.Time) (*model.OrganizationSubscription, error) {
	planID := snap.PlanID
	if planID == uuid.Nil {
		planID = sub.PlanID
	}
	plan, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	sub.PlanID = plan.ID
	sub.ExternalSubscriptionID = strOrNil(snap.ExternalSubscriptionID)
	if snap.ExternalCustomerID != "" {
		sub.ExternalCustomerID = &snap.ExternalCustomerID
	}
	sub.Status = snap.Status
	if sub.Status == "" {
		sub.Status = model.SubscriptionStatusActive
	}
	sub.TrialStart = snap.TrialStart
	sub.TrialEnd = snap.TrialEnd
	sub.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	sub.CancelledAt = nil
	sub.ClearDowngradeGrace()
	sub.LastEventAt = &eventAt
	s.applyPeriod(sub, plan, snap.PeriodStart, snap.PeriodEnd, s.now())

	if err := s.save(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("Subscription re-opened",
		zap.String("organization_id", sub.OrganizationID.String()),
		zap.String("external_subscription_id", snap.ExternalSubscriptionID),
		zap.String("status", string(sub.Status)))

	if sub.Status.Accrues() {
		if err := s.allocatePeriod(ctx, sub, plan); err != nil {
			return nil, err
		}
	}
	return sub, nil
}
