package repository

import (
	"context"

	"github.com/google/uuid"
)

// MembershipRepository answers organization membership lookups against the identity provider.
type MembershipRepository interface {
	// GetRole returns the user's role in the organization, or "" when the user is not a member.
	GetRole(ctx context.Context, userID, organizationID uuid.UUID) (string, error)
}
