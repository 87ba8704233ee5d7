package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const ginKey = "logger"

// Middleware returns a Gin middleware function that logs requests
func Middleware(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString("requestID")
		if requestID == "" {
			requestID = c.GetHeader("X-Request-ID")
		}
		if requestID == "" {
			requestID = uuid.New().String()
			c.Header("X-Request-ID", requestID)
		}

		reqLogger := logger.WithRequestID(requestID)
		c.Set(ginKey, reqLogger)

		start := time.Now()
		c.Next()

		// handlers may have replaced the logger with a more specific one
		FromGin(c).LogRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// FromGin returns the request-scoped logger, or the global one when the
// logging middleware did not run.
func FromGin(c *gin.Context) *Logger {
	if v, ok := c.Get(ginKey); ok {
		if l, ok := v.(*Logger); ok {
			return l
		}
	}
	return GetGlobal()
}

// SetGin replaces the request-scoped logger
func SetGin(c *gin.Context, l *Logger) {
	c.Set(ginKey, l)
}
