package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key handlers read the caller's id from.
const UserIDKey = "user_id"

// TokenFromRequest pulls the bearer token from the Authorization header,
// falling back to the token query parameter for websocket clients that
// cannot set headers.
func TokenFromRequest(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" {
		return r.URL.Query().Get("token")
	}
	if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
		token = token[7:]
	}
	return token
}

// Middleware rejects requests without a valid token and stashes the
// resolved user id in the gin context.
func Middleware(provider Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, err := provider.CurrentUser(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}
