// Package authz guards HTTP routes with bearer-token authentication and
// role checks. Roles are read from the verified token's custom claims,
// never from the local directory, so a stale principal cannot keep
// privileges its claims no longer carry.
package authz

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/seatsync/seatsync/internal/identity"
	"github.com/seatsync/seatsync/internal/logging"
)

// ContextKeyPrincipal is the key for storing the verified principal in
// the gin context.
const ContextKeyPrincipal = "principal"

// Authenticate verifies the bearer token and stores the resulting
// principal in the context. Requests without a valid token are rejected
// with 401.
func Authenticate(provider identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": "Bearer token required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}

		principal, err := provider.VerifyToken(c.Request.Context(), token)
		if err != nil {
			logging.L(c.Request.Context()).Debug("token verification failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": "Token is invalid, expired, or revoked.",
			})
			return
		}

		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

// RequireRoles rejects authenticated requests whose token role claim is
// not one of the given roles. With no roles listed the check passes.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(roles) == 0 {
			c.Next()
			return
		}

		principal, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": "Authentication required.",
			})
			return
		}

		role := principal.Role()
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Insufficient role for this operation.",
		})
	}
}

// GetPrincipal returns the verified principal from the context.
func GetPrincipal(c *gin.Context) (*identity.Principal, bool) {
	v, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil, false
	}
	p, ok := v.(*identity.Principal)
	return p, ok
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
