package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/remitmatch/cashapp-agent/appctx"
)

// ServiceClaims is this module's JWT payload: a service identity and
// whether it may bypass review-queue gating (manual match approval,
// dead-letter requeue, posting overrides).
type ServiceClaims struct {
	Subject string `json:"sub"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

func jwtSecret() []byte {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		secret = "cash-application-dev-secret"
	}
	return []byte(secret)
}

func validateToken(token string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// AuthMiddleware requires a bearer token on every route it guards and
// attaches the caller's identity to the request context for downstream
// handlers and the orchestrator's audit trail.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(header, bearerPrefix) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		claims, err := validateToken(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		ctx := appctx.Set(c.Request.Context(), appctx.ContextKeyServiceIdentity, claims.Subject)
		ctx = appctx.Set(ctx, appctx.ContextKeyIsAdmin, claims.IsAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAdmin gates a route to callers whose token carries IsAdmin, after
// AuthMiddleware has already run.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		isAdmin, _ := appctx.GetBool(c.Request.Context(), appctx.ContextKeyIsAdmin)
		if !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
