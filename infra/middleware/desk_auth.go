package middleware

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"helpdesk_worker/pkg/apperr"
	"helpdesk_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTAuth validates operator JWT tokens (HS256) on the dashboard routes.
// The org_id claim scopes every downstream query to the caller's tenant.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == "OPTIONS" {
			return c.Next()
		}

		var tokenString string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			if secret == "" {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			logger.WithError(err).Warn("JWT validation failed")
			return apperr.InvalidToken("invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return apperr.InvalidToken("invalid claims")
		}

		sub, ok := claims["sub"].(string)
		if !ok {
			return apperr.InvalidToken("missing subject")
		}
		userID, err := uuid.Parse(sub)
		if err != nil {
			return apperr.InvalidToken("invalid subject")
		}

		orgIDStr, ok := claims["org_id"].(string)
		if !ok {
			return apperr.InvalidToken("missing org_id claim")
		}
		orgID, err := uuid.Parse(orgIDStr)
		if err != nil {
			return apperr.InvalidToken("invalid org_id claim")
		}

		c.Locals("user_id", userID)
		c.Locals("org_id", orgID)
		return c.Next()
	}
}

// CronAuth guards the scheduled-trigger endpoints with a shared secret
// (`Authorization: Bearer <CRON_SECRET>`).
func CronAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return apperr.Internal("cron secret not configured")
		}

		authHeader := c.Get("Authorization")
		expected := "Bearer " + secret
		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(expected)) != 1 {
			return apperr.Unauthorized("invalid cron secret")
		}
		return c.Next()
	}
}

// OrgID returns the tenant scope set by JWTAuth.
func OrgID(c *fiber.Ctx) (uuid.UUID, error) {
	orgID, ok := c.Locals("org_id").(uuid.UUID)
	if !ok {
		return uuid.Nil, apperr.Unauthorized("missing tenant scope")
	}
	return orgID, nil
}
