package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	domainRepo "github.com/th1s9uy/saas-billing/internal/domain/repository"
)

type organizationMember struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// SupabaseMembershipRepository reads organization membership through the Supabase REST API
type SupabaseMembershipRepository struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

// NewSupabaseMembershipRepository creates a new Supabase membership repository
func NewSupabaseMembershipRepository(baseURL, apiKey string, logger *zap.Logger) domainRepo.MembershipRepository {
	return &SupabaseMembershipRepository{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  logger,
	}
}

// GetRole returns the user's role in the organization, or "" when not a member
func (r *SupabaseMembershipRepository) GetRole(ctx context.Context, userID, organizationID uuid.UUID) (string, error) {
	params := url.Values{}
	params.Add("user_id", fmt.Sprintf("eq.%s", userID))
	params.Add("organization_id", fmt.Sprintf("eq.%s", organizationID))
	params.Add("select", "user_id,organization_id,role")
	queryURL := fmt.Sprintf("%s/rest/v1/organization_members?%s", r.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", r.apiKey))
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("Supabase membership request failed",
			zap.String("user_id", userID.String()),
			zap.String("organization_id", organizationID.String()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", domainErrors.NewExternalServiceError("identity", "get_membership", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		r.logger.Warn("Supabase API returned non-200 status",
			zap.String("user_id", userID.String()),
			zap.String("organization_id", organizationID.String()),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", body))
		return "", domainErrors.NewExternalServiceError("identity", "get_membership",
			fmt.Errorf("supabase API error: status %d", resp.StatusCode))
	}

	var members []organizationMember
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil {
		return "", domainErrors.NewExternalServiceError("identity", "get_membership",
			fmt.Errorf("failed to decode response: %w", err))
	}
	if len(members) == 0 {
		return "", nil
	}
	if len(members) > 1 {
		r.logger.Warn("Multiple membership records found - using first one",
			zap.String("user_id", userID.String()),
			zap.String("organization_id", organizationID.String()),
			zap.Int("members_found", len(members)))
	}

	return members[0].Role, nil
}
