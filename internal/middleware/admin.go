package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/GoPolymarket/capturegate/internal/config"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

const HeaderAdminKey = "X-Admin-Key"

// AdminMiddleware guards the admin routes with the configured admin key.
// Without a key the routes are closed.
func AdminMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminKey == "" {
			err := apperrors.New(apperrors.ErrAuthFailed, "admin key not configured", nil)
			c.AbortWithStatusJSON(http.StatusForbidden, err)
			return
		}
		got := c.GetHeader(HeaderAdminKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(cfg.AdminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.New(apperrors.ErrAuthFailed, "invalid admin key", nil))
			return
		}
		c.Next()
	}
}
