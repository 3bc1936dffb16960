package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger returns a Gin middleware that logs each request using zap.
func Logger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if uid := CurrentUserID(c); uid != "" {
			fields = append(fields, zap.String("userId", uid))
		}
		log.Info("request", fields...)
	}
}
