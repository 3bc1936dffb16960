// Package security exposes the operator surface of the token lifecycle core:
// key rotation, session statistics, bulk revocation and the cron overview.
package security

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/middleware"
	"github.com/yyupcompany/kinder-core/internal/models"
	"github.com/yyupcompany/kinder-core/internal/pkg/audit"
	"github.com/yyupcompany/kinder-core/internal/pkg/blacklist"
	pkgcron "github.com/yyupcompany/kinder-core/internal/pkg/cron"
	"github.com/yyupcompany/kinder-core/internal/pkg/keyring"
	"github.com/yyupcompany/kinder-core/internal/pkg/pagination"
	"github.com/yyupcompany/kinder-core/internal/pkg/response"
	"github.com/yyupcompany/kinder-core/internal/pkg/sessions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// keyView is a signing key with its material redacted.
type keyView struct {
	ID        string         `json:"id"`
	Algorithm string         `json:"algorithm"`
	Version   int64          `json:"version"`
	Status    keyring.Status `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

type revokeUserDTO struct {
	Reason string `json:"reason" binding:"required"`
}

// Handler wires the admin endpoints.
type Handler struct {
	db       *gorm.DB
	keys     *keyring.Manager
	registry *sessions.Registry
	bl       *blacklist.Blacklist
	auditor  *audit.Recorder
	sched    *pkgcron.Scheduler
	log      *zap.Logger
}

func NewHandler(db *gorm.DB, keys *keyring.Manager, registry *sessions.Registry, bl *blacklist.Blacklist, auditor *audit.Recorder, sched *pkgcron.Scheduler, logger *zap.Logger) *Handler {
	return &Handler{
		db:       db,
		keys:     keys,
		registry: registry,
		bl:       bl,
		auditor:  auditor,
		sched:    sched,
		log:      logger.Named("SecurityAdmin"),
	}
}

// RotateKey handles POST /security/keys/rotate.
func (h *Handler) RotateKey(c *gin.Context) {
	key, err := h.keys.Rotate(c.Request.Context())
	if err != nil {
		if errors.Is(err, keyring.ErrRotationConflict) {
			response.UnprocessableEntity(c, "另一实例正在轮换密钥，请稍后重试")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, keyView{
		ID:        key.ID,
		Algorithm: key.Algorithm,
		Version:   key.Version,
		Status:    key.Status,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	})
}

// ListKeys handles GET /security/keys.
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.keys.ValidKeysForVerification(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, keyView{
			ID:        k.ID,
			Algorithm: k.Algorithm,
			Version:   k.Version,
			Status:    k.Status,
			CreatedAt: k.CreatedAt,
			ExpiresAt: k.ExpiresAt,
		})
	}
	response.OK(c, views)
}

// Stats handles GET /security/stats.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.registry.Stats(c.Request.Context())
	if err != nil {
		// Statistics are operational, not authorization; degrade to zeros
		// with a logged warning instead of failing the endpoint.
		h.log.Warn("session stats unavailable", zap.Error(err))
		response.OK(c, &sessions.Stats{SessionsByRole: map[string]int64{}})
		return
	}
	response.OK(c, stats)
}

// RevokeUser handles POST /security/users/:uid/revoke. Evicts every session
// and token of the target user. ACCOUNT_DISABLED additionally disables the
// account record.
func (h *Handler) RevokeUser(c *gin.Context) {
	var dto revokeUserDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	reason := blacklist.Reason(dto.Reason)
	switch reason {
	case blacklist.ReasonAdminRevoke, blacklist.ReasonAccountDisabled,
		blacklist.ReasonSecurityBreach, blacklist.ReasonMFAReset:
	default:
		response.BadRequest(c, "unsupported revocation reason")
		return
	}

	ctx := c.Request.Context()
	uid := c.Param("uid")
	count, err := h.revokeAll(ctx, uid, reason)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if reason == blacklist.ReasonAccountDisabled {
		if err := h.db.WithContext(ctx).Model(&models.UserModel{}).
			Where("id = ?", uid).Update("disabled", true).Error; err != nil {
			response.InternalError(c, err)
			return
		}
	}
	h.auditor.RecordIP(ctx, middleware.CurrentUserID(c), uid, "security.revoke_user", "success", string(reason), c.ClientIP())
	response.OK(c, gin.H{"revoked": count})
}

// Cron handles GET /security/cron.
func (h *Handler) Cron(c *gin.Context) {
	response.OK(c, h.sched.List())
}

// RunCron handles POST /security/cron/:name/run. The job outlives the
// request, so it must not inherit the request's cancellation.
func (h *Handler) RunCron(c *gin.Context) {
	if err := h.sched.Run(context.WithoutCancel(c.Request.Context()), c.Param("name")); err != nil {
		response.NotFound(c)
		return
	}
	response.NoContent(c)
}

func (h *Handler) revokeAll(ctx context.Context, uid string, reason blacklist.Reason) (int, error) {
	evicted, err := h.registry.EvictAll(ctx, uid, "", reason)
	if err != nil {
		return 0, err
	}
	expiresAt := time.Now().Add(24 * time.Hour)
	restamped, err := h.bl.RevokeAllForUser(ctx, uid, reason, expiresAt)
	if err != nil {
		return evicted, err
	}
	if restamped > evicted {
		return restamped, nil
	}
	return evicted, nil
}

// AuditLogs handles GET /security/audit with optional actor/action filters.
func (h *Handler) AuditLogs(c *gin.Context) {
	q := pagination.FromContext(c)

	query := h.db.Model(&models.AuditLogModel{}).Order("id DESC")
	if actor := c.Query("actor"); actor != "" {
		query = query.Where("actor = ?", actor)
	}
	if action := c.Query("action"); action != "" {
		query = query.Where("action = ?", action)
	}

	var logs []models.AuditLogModel
	meta, err := pagination.Paginate(query, q, &logs)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, logs, meta)
}
