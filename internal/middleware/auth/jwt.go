package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Organization roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// OrganizationHeader selects the organization a request acts on.
const OrganizationHeader = "X-Organization-Id"

// AuthUser represents an authenticated user acting on one organization
type AuthUser struct {
	UserID         uuid.UUID `json:"user_id"`
	Email          string    `json:"email"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Role           string    `json:"role"`
}

// IsAdmin reports whether the user may change the organization's billing.
func (u *AuthUser) IsAdmin() bool {
	return u.Role == RoleOwner || u.Role == RoleAdmin
}

// contextKey is used for storing user in context
type contextKey string

const (
	userContextKey contextKey = "authenticated_user"
)

// MembershipChecker resolves a user's role in an organization. An empty role
// means the user is not a member.
type MembershipChecker interface {
	Role(ctx context.Context, userID, organizationID uuid.UUID) (string, error)
}

// JWTConfig holds the configuration for JWT middleware
type JWTConfig struct {
	Secret     string
	Logger     *zap.Logger
	Membership MembershipChecker
	SkipPaths  []string // Paths to skip JWT validation
}

func unauthorized(c echo.Context, message, code string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": message, "code": code})
}

// JWTMiddleware validates identity provider tokens, reads the organization
// header and checks the caller's membership.
func JWTMiddleware(config JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, skipPath := range config.SkipPaths {
				if strings.HasPrefix(path, skipPath) {
					return next(c)
				}
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				config.Logger.Warn("Missing authorization header",
					zap.String("path", path),
					zap.String("method", c.Request().Method))
				return unauthorized(c, "Authorization header required", "MISSING_AUTH_HEADER")
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				config.Logger.Warn("Invalid authorization header format", zap.String("path", path))
				return unauthorized(c, "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT")
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(config.Secret), nil
			})
			if err != nil || !token.Valid {
				config.Logger.Warn("JWT validation failed",
					zap.Error(err),
					zap.String("path", path))
				return unauthorized(c, "Invalid or expired token", "INVALID_TOKEN")
			}

			subject, _ := claims.GetSubject()
			userID, err := uuid.Parse(subject)
			if err != nil {
				config.Logger.Warn("Token subject is not a user id",
					zap.String("sub", subject),
					zap.String("path", path))
				return unauthorized(c, "Invalid token claims", "INVALID_CLAIMS")
			}

			orgHeader := c.Request().Header.Get(OrganizationHeader)
			if orgHeader == "" {
				return c.JSON(http.StatusBadRequest, echo.Map{
					"error": OrganizationHeader + " header required",
					"code":  "MISSING_ORGANIZATION_ID",
				})
			}
			orgID, err := uuid.Parse(orgHeader)
			if err != nil {
				config.Logger.Warn("Invalid organization id format",
					zap.String("organization_id", orgHeader),
					zap.String("path", path))
				return c.JSON(http.StatusBadRequest, echo.Map{
					"error": OrganizationHeader + " must be a valid UUID format",
					"code":  "INVALID_ORGANIZATION_ID_FORMAT",
				})
			}

			role, err := config.Membership.Role(c.Request().Context(), userID, orgID)
			if err != nil {
				config.Logger.Error("Membership lookup failed",
					zap.String("user_id", userID.String()),
					zap.String("organization_id", orgID.String()),
					zap.Error(err))
				return c.JSON(http.StatusBadGateway, echo.Map{
					"error": "Could not verify organization membership",
					"code":  "MEMBERSHIP_UNAVAILABLE",
				})
			}
			if role == "" {
				config.Logger.Warn("User is not a member of the organization",
					zap.String("user_id", userID.String()),
					zap.String("organization_id", orgID.String()))
				return c.JSON(http.StatusForbidden, echo.Map{
					"error": "Not a member of this organization",
					"code":  "NOT_A_MEMBER",
				})
			}

			email, _ := claims["email"].(string)
			authUser := &AuthUser{
				UserID:         userID,
				Email:          email,
				OrganizationID: orgID,
				Role:           role,
			}

			ctx := context.WithValue(c.Request().Context(), userContextKey, authUser)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("user_id", userID.String())
			c.Set("organization_id", orgID.String())

			config.Logger.Debug("User authenticated successfully",
				zap.String("user_id", userID.String()),
				zap.String("organization_id", orgID.String()),
				zap.String("role", role))

			return next(c)
		}
	}
}

// RequireAdmin rejects callers that are not owners or admins of the organization.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := GetUserFromContext(c)
			if err != nil {
				return unauthorized(c, "Authentication required", "AUTH_REQUIRED")
			}
			if !user.IsAdmin() {
				return c.JSON(http.StatusForbidden, echo.Map{
					"error": "Organization admin role required",
					"code":  "ADMIN_REQUIRED",
				})
			}
			return next(c)
		}
	}
}

// GetUserFromContext extracts the authenticated user from the request context
func GetUserFromContext(c echo.Context) (*AuthUser, error) {
	user, ok := c.Request().Context().Value(userContextKey).(*AuthUser)
	if !ok || user == nil {
		return nil, fmt.Errorf("no authenticated user found in context")
	}
	return user, nil
}
