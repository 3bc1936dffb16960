// Package storage gates access to tenant object storage. Paths are the
// authorization boundary: every tenant object lives under rent/{tenantKey}/
// and is only reachable with a scoped OSS token for that exact path.
package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/middleware"
	"github.com/yyupcompany/kinder-core/internal/pkg/audit"
	"github.com/yyupcompany/kinder-core/internal/pkg/oss"
	"github.com/yyupcompany/kinder-core/internal/pkg/response"
	"github.com/yyupcompany/kinder-core/internal/pkg/tenanttoken"
	"go.uber.org/zap"
)

const presignTTL = 10 * time.Minute

type issueTokenDTO struct {
	Path string `json:"path" binding:"required"`
}

type uploadDTO struct {
	Path        string `json:"path" binding:"required"`
	ContentType string `json:"content_type"`
}

// Handler exposes scoped-token issuance and presigned storage access.
type Handler struct {
	issuer  *tenanttoken.Issuer
	store   *oss.Client
	auditor *audit.Recorder
	log     *zap.Logger
}

func NewHandler(issuer *tenanttoken.Issuer, store *oss.Client, auditor *audit.Recorder, logger *zap.Logger) *Handler {
	return &Handler{issuer: issuer, store: store, auditor: auditor, log: logger.Named("Storage")}
}

// IssueToken handles POST /objects/token. A caller only ever receives tokens
// for public paths or paths inside their own tenant.
func (h *Handler) IssueToken(c *gin.Context) {
	var dto issueTokenDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	tenant := middleware.CurrentTenant(c)
	if err := h.checkPathTenant(c, dto.Path, tenant); err != nil {
		response.Unauthorized(c)
		return
	}
	token, err := h.issuer.Issue(middleware.CurrentUserID(c), tenant, dto.Path)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, token)
}

// Download handles GET /objects/dl/*path (behind the TenantAccess gate) and
// answers with a presigned download URL.
func (h *Handler) Download(c *gin.Context) {
	if h.store == nil {
		response.NotFound(c)
		return
	}
	path := strings.TrimPrefix(c.Param("path"), "/")
	url, err := h.store.PresignGet(c.Request.Context(), path, presignTTL)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"url": url, "expires_in": int(presignTTL.Seconds())})
}

// Upload handles POST /objects/upload and answers with a presigned upload
// URL. Writes are only ever authorized into the caller's own tenant prefix.
func (h *Handler) Upload(c *gin.Context) {
	if h.store == nil {
		response.NotFound(c)
		return
	}
	var dto uploadDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	tenant := middleware.CurrentTenant(c)
	// Uploads may not target public prefixes; the path must be tenant-owned.
	key := tenanttoken.TenantPath(tenant, strings.TrimPrefix(dto.Path, "rent/"+tenant+"/"))
	if err := h.checkPathTenant(c, key, tenant); err != nil {
		response.Unauthorized(c)
		return
	}
	url, err := h.store.PresignPut(c.Request.Context(), key, dto.ContentType, presignTTL)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"url": url, "key": key, "expires_in": int(presignTTL.Seconds())})
}

// checkPathTenant rejects issuing or writing against another tenant's
// prefix, recording the attempt as a security event.
func (h *Handler) checkPathTenant(c *gin.Context, path, tenant string) error {
	token, err := h.issuer.Issue(middleware.CurrentUserID(c), tenant, path)
	if err != nil {
		return err
	}
	result := h.issuer.Validate(middleware.CurrentUserID(c), tenant, path, token.Token)
	if result.Valid {
		return nil
	}
	if errors.Is(result.Err, tenanttoken.ErrCrossTenantAccess) {
		h.log.Warn("cross tenant path in token request",
			zap.String("userId", middleware.CurrentUserID(c)),
			zap.String("tenant", tenant),
			zap.String("path", path))
		h.auditor.RecordIP(c.Request.Context(), middleware.CurrentUserID(c), path,
			"storage.issue_token", "cross_tenant_denied", result.Err.Error(), c.ClientIP())
	}
	return result.Err
}
