// Package tenant issues and validates the tenant-scoped access tokens that
// gate per-tenant database namespaces. Internal services present these tokens
// when proxying into a tenant's data, independent of the user session token.
package tenant

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/middleware"
	"github.com/yyupcompany/kinder-core/internal/pkg/audit"
	"github.com/yyupcompany/kinder-core/internal/pkg/response"
	"github.com/yyupcompany/kinder-core/internal/pkg/tenanttoken"
	"go.uber.org/zap"
)

type issueDTO struct {
	Path string `json:"path" binding:"required"`
}

type validateDTO struct {
	TenantCode string `json:"tenant_code" binding:"required"`
	Path       string `json:"path"        binding:"required"`
	Token      string `json:"token"       binding:"required"`
	Subject    string `json:"subject"     binding:"required"`
}

// Handler exposes the tenant token endpoints.
type Handler struct {
	issuer  *tenanttoken.Issuer
	auditor *audit.Recorder
	log     *zap.Logger
}

func NewHandler(issuer *tenanttoken.Issuer, auditor *audit.Recorder, logger *zap.Logger) *Handler {
	return &Handler{issuer: issuer, auditor: auditor, log: logger.Named("TenantToken")}
}

// Issue handles POST /tenant/token: a scoped token for the caller's own
// tenant namespace.
func (h *Handler) Issue(c *gin.Context) {
	var dto issueDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, err := h.issuer.Issue(middleware.CurrentUserID(c), middleware.CurrentTenant(c), dto.Path)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.OK(c, token)
}

// Validate handles POST /tenant/validate, used by internal resource proxies
// before touching a tenant namespace. The response never distinguishes
// failure causes; the audit trail does.
func (h *Handler) Validate(c *gin.Context) {
	var dto validateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	result := h.issuer.Validate(dto.Subject, dto.TenantCode, dto.Path, dto.Token)
	if result.Valid {
		response.OK(c, gin.H{"is_valid": true, "access_type": result.AccessType})
		return
	}
	outcome := "invalid_token"
	if errors.Is(result.Err, tenanttoken.ErrCrossTenantAccess) {
		outcome = "cross_tenant_denied"
		h.log.Warn("cross tenant namespace access denied",
			zap.String("subject", dto.Subject),
			zap.String("tenant", dto.TenantCode),
			zap.String("path", dto.Path))
	} else if errors.Is(result.Err, tenanttoken.ErrUnknownResourcePath) {
		outcome = "unknown_path"
	}
	h.auditor.RecordIP(c.Request.Context(), dto.Subject, dto.Path, "tenant.validate", outcome, result.Err.Error(), c.ClientIP())
	response.OK(c, gin.H{"is_valid": false})
}
