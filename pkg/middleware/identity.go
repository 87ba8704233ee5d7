package middleware

import (
	"strconv"

	"ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// UserIDHeader carries the caller identity set by the API gateway
const UserIDHeader = "X-User-ID"

// CallerIdentity reads the authenticated caller from UserIDHeader and
// rejects requests without a valid numeric ID.
func CallerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserIDHeader)
		if raw == "" {
			c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "caller identity is required"))
			c.Abort()
			return
		}

		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "caller identity is malformed"))
			c.Abort()
			return
		}

		userID := uint(id)
		c.Set("userID", userID)
		logger.SetGin(c, logger.FromGin(c).WithUserID(raw))

		c.Next()
	}
}

// CallerID returns the caller set by CallerIdentity
func CallerID(c *gin.Context) uint {
	v, ok := c.Get("userID")
	if !ok {
		return 0
	}
	id, _ := v.(uint)
	return id
}
