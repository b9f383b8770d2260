package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
	"github.com/th1s9uy/saas-billing/internal/infrastructure/metrics"
)

// AuditReport summarizes one ledger audit sweep.
type AuditReport struct {
	Checked    int
	Mismatches []uuid.UUID
	NeedReview []uuid.UUID
	Duration   time.Duration
}

// AuditService verifies every active organization's cached balance against
// its transaction log.
type AuditService struct {
	orgRepo     domainRepo.OrganizationRepository
	ledger      *LedgerService
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewAuditService creates a new audit service instance
func NewAuditService(orgRepo domainRepo.OrganizationRepository, ledger *LedgerService, concurrency int, m *metrics.Metrics, logger *zap.Logger) *AuditService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &AuditService{
		orgRepo:     orgRepo,
		ledger:      ledger,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger,
	}
}

// RunSweep audits all active organizations. Balance mismatches are reported,
// not returned; an infrastructure failure aborts the sweep.
func (s *AuditService) RunSweep(ctx context.Context) (*AuditReport, error) {
	start := time.Now()
	report := &AuditReport{}

	ids, err := s.orgRepo.ListActiveIDs(ctx)
	if err != nil {
		err = domainErrors.AsExternal("database", "list_organizations", err)
		s.metrics.AuditCompleted(0, err)
		return nil, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			audit, err := s.ledger.VerifyBalance(gctx, id)
			var consistencyErr *domainErrors.ConsistencyError
			switch {
			case errors.As(err, &consistencyErr):
				mu.Lock()
				report.Mismatches = append(report.Mismatches, id)
				mu.Unlock()
				return nil
			case err != nil:
				return err
			}

			mu.Lock()
			report.Checked++
			if !audit.Consistent {
				report.NeedReview = append(report.NeedReview, id)
			}
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()
	report.Checked += len(report.Mismatches)
	report.Duration = time.Since(start)
	s.metrics.AuditCompleted(len(report.Mismatches), err)
	if err != nil {
		return report, err
	}

	log := s.logger.Info
	if len(report.Mismatches) > 0 {
		log = s.logger.Warn
	}
	log("Ledger audit sweep finished",
		zap.Int("organizations", len(ids)),
		zap.Int("mismatches", len(report.Mismatches)),
		zap.Int("need_review", len(report.NeedReview)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// Run adapts RunSweep to the scheduler.
func (s *AuditService) Run(ctx context.Context) error {
	_, err := s.RunSweep(ctx)
	return err
}
