package rbac

import (
	"net/http"

	"messaging-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireClient enforces the tenant invariant: client_id must exist in context.
// This does not validate membership; that belongs to the authorization layer.
func RequireClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid, err := auth.ClientID(c.Request.Context())
		if err != nil || cid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "client_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - admin bypasses all checks
// - system is a hidden role, and will be denied unless explicitly allowed
// - client isolation is enforced via RequireClient (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		// admin bypasses all
		if IsAdmin(role) {
			c.Next()
			return
		}

		// hidden roles are opt-in only
		if IsHiddenRole(role) {
			if _, ok := allowedSet[role]; !ok {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
