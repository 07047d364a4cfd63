package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"libraryapi/internal/apperrors"
	"libraryapi/internal/auth"
	"libraryapi/internal/models"
	"libraryapi/internal/ratelimit"
)

// claimsKey is the gin context key holding the verified token claims.
const claimsKey = "authClaims"

// writeError renders the standard failure envelope for a domain error.
// Unknown failures are logged and reported as an internal error.
func writeError(c *gin.Context, err error) {
	ae := apperrors.From(err)
	if ae.Kind == apperrors.KindInternal {
		log.Printf("[ERROR] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(ae.HTTPStatus(), gin.H{
		"success": false,
		"error": gin.H{
			"message": ae.Message,
			"code":    ae.Code,
		},
	})
}

// writeValidationError renders a 400 with the binding failure message.
func writeValidationError(c *gin.Context, err error) {
	writeError(c, apperrors.Validation(err.Error()))
}

// RequireAuth verifies the Bearer token and stores the claims in the context.
func RequireAuth(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			writeError(c, apperrors.Unauthorized("NO_TOKEN", "no token provided, access denied"))
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(c, apperrors.Unauthorized("INVALID_TOKEN_FORMAT", "invalid token format, use Bearer <token>"))
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if tokenString == "" {
			writeError(c, apperrors.Unauthorized("NO_TOKEN", "no token provided, access denied"))
			return
		}

		claims, err := tokens.Verify(tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeError(c, apperrors.Unauthorized("TOKEN_EXPIRED", "token has expired"))
				return
			}
			writeError(c, apperrors.Unauthorized("INVALID_TOKEN", "invalid token"))
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// claimsFrom returns the verified claims stored by RequireAuth.
func claimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// RequireRole allows the request only when the authenticated user holds one of
// the given roles. Must run after RequireAuth.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			writeError(c, apperrors.Unauthorized("AUTH_REQUIRED", "authentication required"))
			return
		}
		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}
		writeError(c, apperrors.Forbidden("INSUFFICIENT_PERMISSIONS", "insufficient permissions to access this resource"))
	}
}

// RequireSelfOrAdmin allows the request when the authenticated user is an
// admin or the :id path parameter names their own account.
func RequireSelfOrAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := claimsFrom(c)
		if !ok {
			writeError(c, apperrors.Unauthorized("AUTH_REQUIRED", "authentication required"))
			return
		}
		if claims.Role == models.UserRoleAdmin {
			c.Next()
			return
		}
		requested, err := uuid.Parse(c.Param("id"))
		if err == nil && requested == claims.UserID {
			c.Next()
			return
		}
		writeError(c, apperrors.Forbidden("INSUFFICIENT_PERMISSIONS", "you can only access your own resources"))
	}
}

// RateLimit rejects requests over the per-client budget, keyed by client IP.
func RateLimit(limiter *ratelimit.KeyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"message": "too many requests, please try again later",
					"code":    apperrors.CodeRateLimited,
				},
			})
			return
		}
		c.Next()
	}
}
