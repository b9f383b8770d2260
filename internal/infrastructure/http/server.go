package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	handlers "github.com/th1s9uy/saas-billing/internal/adapter/handler/http"
	"github.com/th1s9uy/saas-billing/internal/config"
	"github.com/th1s9uy/saas-billing/internal/middleware/auth"
	"github.com/th1s9uy/saas-billing/pkg/logger"
)

// Handlers groups the HTTP handlers the server routes to.
type Handlers struct {
	Credits       *handlers.CreditHandler
	Subscriptions *handlers.SubscriptionHandler
	Checkout      *handlers.CheckoutHandler
	Billing       *handlers.BillingHandler
	Catalog       *handlers.CatalogHandler
	Webhooks      *handlers.WebhookHandler
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	echo       *echo.Echo
	handlers   Handlers
	membership auth.MembershipChecker
	gatherer   prometheus.Gatherer
}

// NewServer builds the echo server and registers every route.
func NewServer(cfg *config.Config, log *zap.Logger, h Handlers, membership auth.MembershipChecker, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()
	logger.WithEchoLogger(e, log)

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(logger.NewEchoRequestLogger(log))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.Service.ClientURL},
		AllowMethods: []string{echo.GET, echo.POST},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, auth.OrganizationHeader},
	}))

	s := &Server{
		config:     cfg,
		logger:     log,
		echo:       e,
		handlers:   h,
		membership: membership,
		gatherer:   gatherer,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	addr := s.config.Server.HTTP.Address()
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": s.config.Service.Name,
		})
	})
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	// Raw body and signature header; no JWT.
	s.echo.POST("/webhooks/stripe", s.handlers.Webhooks.HandleStripeWebhook)

	v1 := s.echo.Group("/api/v1")

	// Public catalog
	v1.GET("/plans", s.handlers.Catalog.ListPlans)
	v1.GET("/plans/:id", s.handlers.Catalog.GetPlan)
	v1.GET("/credit-products", s.handlers.Catalog.ListCreditProducts)
	v1.GET("/credit-events", s.handlers.Catalog.ListCreditEvents)

	protected := v1.Group("", auth.JWTMiddleware(auth.JWTConfig{
		Secret:     s.config.Auth.JWTSecret,
		Logger:     s.logger,
		Membership: s.membership,
	}))
	admin := auth.RequireAdmin()

	credits := protected.Group("/credits")
	credits.GET("/balance", s.handlers.Credits.GetBalance)
	credits.POST("/consume", s.handlers.Credits.ConsumeCredits)
	credits.GET("/transactions", s.handlers.Credits.ListTransactions)
	credits.POST("/adjustments", s.handlers.Credits.AdjustCredits, admin)
	credits.GET("/audit", s.handlers.Credits.VerifyBalance, admin)

	subscription := protected.Group("/subscription")
	subscription.GET("", s.handlers.Subscriptions.GetSubscription)
	subscription.POST("", s.handlers.Subscriptions.CreateSubscription, admin)
	subscription.POST("/cancel", s.handlers.Subscriptions.CancelSubscription, admin)
	subscription.POST("/reactivate", s.handlers.Subscriptions.ReactivateSubscription, admin)

	checkout := protected.Group("/checkout", admin)
	checkout.POST("/subscription", s.handlers.Checkout.CreateSubscriptionCheckout)
	checkout.POST("/credits", s.handlers.Checkout.CreateCreditCheckout)

	billing := protected.Group("/billing")
	billing.GET("/summary", s.handlers.Billing.GetSummary)
	billing.GET("/history", s.handlers.Billing.ListHistory)
	billing.POST("/portal", s.handlers.Checkout.CreatePortalSession, admin)
}
