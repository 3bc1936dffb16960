package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/pkg/audit"
	"github.com/yyupcompany/kinder-core/internal/pkg/response"
	"github.com/yyupcompany/kinder-core/internal/pkg/tenanttoken"
	"go.uber.org/zap"
)

const ContextKeyObjectPath = "object_path"

// TenantAccess gates tenant-isolated resource paths with a scoped access
// token, independent of the session token. Must run after Auth so the
// caller's tenant is known. The wildcard route param "path" names the object.
func TenantAccess(issuer *tenanttoken.Issuer, auditor *audit.Recorder, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("TenantAccess")
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		path := c.Param("path")
		token := c.Query("access_token")
		if token == "" {
			token = c.GetHeader("X-Access-Token")
		}

		result := issuer.Validate(CurrentUserID(c), CurrentTenant(c), path, token)
		if result.Valid {
			c.Set(ContextKeyObjectPath, path)
			c.Next()
			return
		}

		switch {
		case errors.Is(result.Err, tenanttoken.ErrCrossTenantAccess):
			// A cross-tenant attempt is a security event, never a plain 404.
			log.Warn("cross tenant access denied",
				zap.String("userId", CurrentUserID(c)),
				zap.String("tenant", CurrentTenant(c)),
				zap.String("path", path),
				zap.String("ip", c.ClientIP()))
			auditor.RecordIP(ctx, CurrentUserID(c), path, "storage.access", "cross_tenant_denied", result.Err.Error(), c.ClientIP())
		case errors.Is(result.Err, tenanttoken.ErrUnknownResourcePath):
			auditor.RecordIP(ctx, CurrentUserID(c), path, "storage.access", "unknown_path", result.Err.Error(), c.ClientIP())
		default:
			auditor.RecordIP(ctx, CurrentUserID(c), path, "storage.access", "invalid_token", "scoped token mismatch", c.ClientIP())
		}
		response.Unauthorized(c)
	}
}
