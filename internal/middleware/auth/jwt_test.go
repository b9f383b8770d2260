package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/middleware/auth"
)

const testSecret = "test-jwt-secret"

type staticMembership struct {
	roles map[uuid.UUID]string
	err   error
}

func (m staticMembership) Role(ctx context.Context, userID, organizationID uuid.UUID) (string, error) {
	return m.roles[organizationID], m.err
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTMiddleware(t *testing.T) {
	userID := uuid.New()
	memberOrg := uuid.New()
	adminOrg := uuid.New()
	membership := staticMembership{roles: map[uuid.UUID]string{
		memberOrg: auth.RoleMember,
		adminOrg:  auth.RoleAdmin,
	}}

	validToken := signToken(t, testSecret, jwt.MapClaims{
		"sub":   userID.String(),
		"email": "user@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	newServer := func(checker auth.MembershipChecker) *echo.Echo {
		e := echo.New()
		cfg := auth.JWTConfig{
			Secret:     testSecret,
			Logger:     zap.NewNop(),
			Membership: checker,
			SkipPaths:  []string{"/api/v1/plans"},
		}
		api := e.Group("/api/v1", auth.JWTMiddleware(cfg))
		api.GET("/plans", func(c echo.Context) error { return c.String(http.StatusOK, "public") })
		api.GET("/balance", func(c echo.Context) error {
			user, err := auth.GetUserFromContext(c)
			if err != nil {
				return err
			}
			return c.JSON(http.StatusOK, user)
		})
		api.POST("/adjust", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, auth.RequireAdmin())
		return e
	}

	do := func(e *echo.Echo, method, path, token, org string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if org != "" {
			req.Header.Set(auth.OrganizationHeader, org)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		org        string
		checker    auth.MembershipChecker
		wantStatus int
	}{
		{"skip path needs no token", http.MethodGet, "/api/v1/plans", "", "", membership, http.StatusOK},
		{"missing token", http.MethodGet, "/api/v1/balance", "", memberOrg.String(), membership, http.StatusUnauthorized},
		{"wrong secret", http.MethodGet, "/api/v1/balance", signToken(t, "other", jwt.MapClaims{"sub": userID.String()}), memberOrg.String(), membership, http.StatusUnauthorized},
		{"expired token", http.MethodGet, "/api/v1/balance", signToken(t, testSecret, jwt.MapClaims{"sub": userID.String(), "exp": time.Now().Add(-time.Hour).Unix()}), memberOrg.String(), membership, http.StatusUnauthorized},
		{"subject is not a uuid", http.MethodGet, "/api/v1/balance", signToken(t, testSecret, jwt.MapClaims{"sub": "service-account"}), memberOrg.String(), membership, http.StatusUnauthorized},
		{"missing organization", http.MethodGet, "/api/v1/balance", validToken, "", membership, http.StatusBadRequest},
		{"malformed organization", http.MethodGet, "/api/v1/balance", validToken, "acme", membership, http.StatusBadRequest},
		{"not a member", http.MethodGet, "/api/v1/balance", validToken, uuid.NewString(), membership, http.StatusForbidden},
		{"membership lookup fails", http.MethodGet, "/api/v1/balance", validToken, memberOrg.String(), staticMembership{err: errors.New("timeout")}, http.StatusBadGateway},
		{"member reads", http.MethodGet, "/api/v1/balance", validToken, memberOrg.String(), membership, http.StatusOK},
		{"member cannot mutate", http.MethodPost, "/api/v1/adjust", validToken, memberOrg.String(), membership, http.StatusForbidden},
		{"admin mutates", http.MethodPost, "/api/v1/adjust", validToken, adminOrg.String(), membership, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newServer(tt.checker), tt.method, tt.path, tt.token, tt.org)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}

	t.Run("authenticated user is stored on the request", func(t *testing.T) {
		rec := do(newServer(membership), http.MethodGet, "/api/v1/balance", validToken, memberOrg.String())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), userID.String())
		assert.Contains(t, rec.Body.String(), `"role":"member"`)
		assert.Contains(t, rec.Body.String(), "user@example.com")
	})
}
