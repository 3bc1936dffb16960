package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
)

const (
	loginRateMax    = 10
	loginRateWindow = time.Minute
)

// LoginRateLimit throttles credential attempts per client IP, counting in the
// shared store so the bound holds across instances.
func LoginRateLimit(store kv.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		window := time.Now().Unix() / int64(loginRateWindow.Seconds())
		key := fmt.Sprintf("rate:login:%s:%d", ip, window)

		count, err := store.Incr(ctx, key)
		if err != nil {
			// Throttling is best-effort; an unreachable store must not block
			// authentication.
			c.Next()
			return
		}
		if count == 1 {
			// First hit in this window; bound the counter's lifetime.
			_ = store.Expire(ctx, key, 2*loginRateWindow)
		}
		if count > loginRateMax {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":      0,
				"code":    http.StatusTooManyRequests,
				"message": "尝试太频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}
