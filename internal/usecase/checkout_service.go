package usecase

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/provider"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
)

// CheckoutURLs are the redirect targets of hosted gateway pages.
type CheckoutURLs struct {
	Success      string
	Cancel       string
	PortalReturn string
}

// ResolveCheckoutURLs resolves relative redirect paths against the client URL.
func ResolveCheckoutURLs(clientURL, success, cancel, portalReturn string) CheckoutURLs {
	resolve := func(target, fallback string) string {
		if target == "" {
			target = fallback
		}
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			return target
		}
		base, err := url.Parse(strings.TrimRight(clientURL, "/") + "/")
		if err != nil {
			return target
		}
		ref, err := url.Parse(strings.TrimLeft(target, "/"))
		if err != nil {
			return target
		}
		return base.ResolveReference(ref).String()
	}
	return CheckoutURLs{
		Success:      resolve(success, "billing?checkout=success"),
		Cancel:       resolve(cancel, "billing?checkout=cancelled"),
		PortalReturn: resolve(portalReturn, "billing"),
	}
}

// CheckoutService creates hosted checkout and portal sessions.
type CheckoutService struct {
	gateway          provider.PaymentGateway
	catalogRepo      domainRepo.CatalogRepository
	subscriptionRepo domainRepo.SubscriptionRepository
	urls             CheckoutURLs
	logger           *zap.Logger
}

// NewCheckoutService creates a new checkout service instance
func NewCheckoutService(
	gateway provider.PaymentGateway,
	catalogRepo domainRepo.CatalogRepository,
	subscriptionRepo domainRepo.SubscriptionRepository,
	urls CheckoutURLs,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		gateway:          gateway,
		catalogRepo:      catalogRepo,
		subscriptionRepo: subscriptionRepo,
		urls:             urls,
		logger:           logger,
	}
}

// customer returns the gateway customer of the organization, if it has one.
func (s *CheckoutService) customer(ctx context.Context, orgID uuid.UUID) (string, error) {
	sub, err := s.subscriptionRepo.GetByOrganizationID(ctx, orgID)
	if err != nil {
		return "", domainErrors.AsExternal("database", "get_subscription", err)
	}
	if sub == nil || sub.ExternalCustomerID == nil {
		return "", nil
	}
	return *sub.ExternalCustomerID, nil
}

// CreateSubscriptionCheckout starts a checkout for a paid plan.
func (s *CheckoutService) CreateSubscriptionCheckout(ctx context.Context, orgID, planID uuid.UUID, email string) (*dto.CheckoutSessionResponse, error) {
	plan, err := s.catalogRepo.GetPlan(ctx, planID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_plan", err)
	}
	if plan == nil || !plan.IsActive {
		return nil, domainErrors.NewNotFoundError("subscription_plan", planID.String())
	}
	if plan.PriceAmount == 0 || plan.ExternalPriceID == nil {
		return nil, domainErrors.NewValidationError("plan_id", "plan %s cannot be bought through checkout", plan.Name)
	}

	existing, err := s.subscriptionRepo.GetByOrganizationID(ctx, orgID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_subscription", err)
	}
	if existing != nil && !existing.Status.IsTerminal() && existing.ExternalSubscriptionID != nil {
		return nil, domainErrors.NewConflictError("organization already has a %s subscription; change plans through the billing portal", existing.Status)
	}

	req := &provider.CheckoutRequest{
		Mode:              provider.CheckoutModeSubscription,
		PriceID:           *plan.ExternalPriceID,
		CustomerEmail:     email,
		ClientReferenceID: orgID.String(),
		SuccessURL:        s.urls.Success,
		CancelURL:         s.urls.Cancel,
		TrialPeriodDays:   plan.TrialPeriodDays,
		Metadata: map[string]string{
			metadataOrganizationID: orgID.String(),
			metadataPlanID:         plan.ID.String(),
		},
	}
	if existing != nil && existing.ExternalCustomerID != nil {
		req.CustomerID = *existing.ExternalCustomerID
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, domainErrors.AsExternal("stripe", "create_checkout_session", err)
	}

	s.logger.Info("Subscription checkout created",
		zap.String("organization_id", orgID.String()),
		zap.String("plan", plan.Name),
		zap.String("session_id", session.ID))
	return &dto.CheckoutSessionResponse{SessionID: session.ID, URL: session.URL}, nil
}

// CreateCreditCheckout starts a one-time checkout for a credit pack.
func (s *CheckoutService) CreateCreditCheckout(ctx context.Context, orgID, productID uuid.UUID, email string) (*dto.CheckoutSessionResponse, error) {
	product, err := s.catalogRepo.GetProduct(ctx, productID)
	if err != nil {
		return nil, domainErrors.AsExternal("database", "get_credit_product", err)
	}
	if product == nil || !product.IsActive {
		return nil, domainErrors.NewNotFoundError("credit_product", productID.String())
	}
	if product.ExternalPriceID == nil {
		return nil, domainErrors.NewValidationError("product_id", "credit product %s has no gateway price", product.Name)
	}

	customerID, err := s.customer(ctx, orgID)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, &provider.CheckoutRequest{
		Mode:              provider.CheckoutModePayment,
		PriceID:           *product.ExternalPriceID,
		CustomerID:        customerID,
		CustomerEmail:     email,
		ClientReferenceID: orgID.String(),
		SuccessURL:        s.urls.Success,
		CancelURL:         s.urls.Cancel,
		Metadata: map[string]string{
			metadataOrganizationID: orgID.String(),
			metadataProductID:      product.ID.String(),
			metadataCreditAmount:   strconv.FormatInt(product.CreditAmount, 10),
		},
	})
	if err != nil {
		return nil, domainErrors.AsExternal("stripe", "create_checkout_session", err)
	}

	s.logger.Info("Credit checkout created",
		zap.String("organization_id", orgID.String()),
		zap.String("product", product.Name),
		zap.String("session_id", session.ID))
	return &dto.CheckoutSessionResponse{SessionID: session.ID, URL: session.URL}, nil
}

// CreatePortalSession opens the gateway's self-service portal.
func (s *CheckoutService) CreatePortalSession(ctx context.Context, orgID uuid.UUID) (*dto.CheckoutSessionResponse, error) {
	customerID, err := s.customer(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, domainErrors.NewNotFoundError("billing_customer", orgID.String())
	}

	portalURL, err := s.gateway.CreatePortalSession(ctx, customerID, s.urls.PortalReturn)
	if err != nil {
		return nil, domainErrors.AsExternal("stripe", "create_portal_session", err)
	}
	return &dto.CheckoutSessionResponse{URL: portalURL}, nil
}
