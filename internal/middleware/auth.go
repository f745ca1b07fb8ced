package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/offsoc/copr/internal/auth"
	"github.com/offsoc/copr/internal/directory"
	"github.com/offsoc/copr/internal/logger"
)

const (
	userContextKey    = "user"
	backendContextKey = "auth_backend"
)

// unexported, collision-proof context key
type userContextKeyType struct{}

var userKey = userContextKeyType{}

// UserFromContext extracts the authenticated user from a request context.
func UserFromContext(ctx context.Context) (*directory.User, bool) {
	u, ok := ctx.Value(userKey).(*directory.User)
	return u, ok && u != nil
}

// CurrentUser resolves the session's username through the backend registry
// and the directory. Users no longer on the allow-list and users missing
// from the directory are treated as anonymous.
func CurrentUser(registry *auth.Registry, dir directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		username, backend, ok := registry.CurrentUsername(SessionFrom(c))
		if !ok || !registry.IsAllowed(username) {
			c.Next()
			return
		}

		u, err := dir.Lookup(c.Request.Context(), username)
		if err != nil {
			logger.Error("current user lookup failed", map[string]any{
				"username": username,
				"error":    err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "user directory unavailable",
			})
			return
		}

		if u != nil {
			c.Set(userContextKey, u)
			c.Set(backendContextKey, backend)
			c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), userKey, u))
		}
		c.Next()
	}
}

// RequireUser aborts with 401 unless CurrentUser resolved a user.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// UserFrom returns the resolved user or nil.
func UserFrom(c *gin.Context) *directory.User {
	if v, ok := c.Get(userContextKey); ok {
		if u, ok := v.(*directory.User); ok {
			return u
		}
	}
	return nil
}

// BackendFrom names the backend that authenticated the current user.
func BackendFrom(c *gin.Context) string {
	return c.GetString(backendContextKey)
}
