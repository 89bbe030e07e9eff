package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinylink/go-server/internal/token"
)

const claimsKey = "claims"

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// APIAuth guards the management API with a bearer token signed by secret.
// An empty secret leaves the API open.
func APIAuth(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	key := []byte(secret)

	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": ErrMissingToken.Error(),
				"code":  "MISSING_TOKEN",
			})
			return
		}

		claims, err := token.ValidateToken(key, strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			zap.L().Debug("Rejected API token", zap.Error(err), zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": ErrInvalidToken.Error(),
				"code":  "INVALID_TOKEN",
			})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// GetClaimsFromContext returns the claims stored by APIAuth
func GetClaimsFromContext(c *gin.Context) (*token.CustomClaims, error) {
	value, exists := c.Get(claimsKey)
	if !exists {
		return nil, errors.New("claims not found in context")
	}

	claims, ok := value.(*token.CustomClaims)
	if !ok {
		return nil, errors.New("invalid claims type in context")
	}

	return claims, nil
}
