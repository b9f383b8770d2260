package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
)

const membershipCacheSize = 4096

type membershipKey struct {
	userID uuid.UUID
	orgID  uuid.UUID
}

// MembershipService answers organization role lookups from a short-lived cache
// in front of the identity provider. Non-members are cached too.
type MembershipService struct {
	repo   domainRepo.MembershipRepository
	cache  *lru.LRU[membershipKey, string]
	logger *zap.Logger
}

// NewMembershipService creates a membership service with the given cache TTL.
func NewMembershipService(repo domainRepo.MembershipRepository, ttl time.Duration, logger *zap.Logger) *MembershipService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MembershipService{
		repo:   repo,
		cache:  lru.NewLRU[membershipKey, string](membershipCacheSize, nil, ttl),
		logger: logger,
	}
}

// Role returns the user's role in the organization, or "" for non-members.
func (s *MembershipService) Role(ctx context.Context, userID, orgID uuid.UUID) (string, error) {
	key := membershipKey{userID: userID, orgID: orgID}
	if role, ok := s.cache.Get(key); ok {
		return role, nil
	}

	role, err := s.repo.GetRole(ctx, userID, orgID)
	if err != nil {
		return "", domainErrors.AsExternal("identity", "get_membership", err)
	}
	s.cache.Add(key, role)
	return role, nil
}
