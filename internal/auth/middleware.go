package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finshield/fraud-engine/internal/models"
)

// Gin context keys set by the middleware below.
const (
	ContextIdentityKey = "identity"
	ContextClaimsKey   = "claims"
)

// IdentityMiddleware validates the bearer token and attaches the resolved
// customer identity to the request context. Requests without a valid token
// are rejected before they reach fraud screening.
func IdentityMiddleware(manager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, manager)
		if !ok {
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextIdentityKey, &models.UserContext{
			IdentityID:       claims.UserID,
			Email:            claims.Email,
			KYCVerified:      claims.KYCVerified,
			AccountCreatedAt: time.Unix(claims.AccountCreatedAt, 0),
		})
		c.Next()
	}
}

// OperatorMiddleware validates the bearer token for back-office routes and
// requires one of the given roles.
func OperatorMiddleware(manager *JWTManager, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, manager)
		if !ok {
			return
		}

		allowed := false
		for _, role := range roles {
			if claims.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Insufficient permissions",
			})
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

func bearerClaims(c *gin.Context, manager *JWTManager) (*Claims, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		unauthorized(c, "Authorization header required")
		return nil, false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		unauthorized(c, "Invalid authorization header format")
		return nil, false
	}

	claims, err := manager.ValidateToken(parts[1])
	if err != nil {
		unauthorized(c, "Invalid or expired token")
		return nil, false
	}
	return claims, true
}

func unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": message,
		"code":    "AUTHENTICATION_REQUIRED",
	})
	c.Abort()
}

// IdentityFromContext returns the customer identity attached by
// IdentityMiddleware, if any.
func IdentityFromContext(c *gin.Context) (*models.UserContext, bool) {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.UserContext)
	return user, ok
}
