package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/middleware"
	"github.com/yyupcompany/kinder-core/internal/pkg/response"
	"gorm.io/gorm"
)

// Handler exposes the authentication endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	result, err := h.svc.Login(c.Request.Context(), &dto, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		// One generic outcome for bad phone, bad password and disabled
		// accounts alike; the audit trail holds the difference.
		if errors.Is(err, errBadCredentials) || errors.Is(err, errAccountDisabled) {
			response.Unauthorized(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, result)
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	err := h.svc.Logout(c.Request.Context(), middleware.CurrentUserID(c), middleware.CurrentTokenHash(c), c.ClientIP())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

// Sessions handles GET /auth/sessions.
func (h *Handler) Sessions(c *gin.Context) {
	list, err := h.svc.ListSessions(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, list)
}

// KickSession handles DELETE /auth/sessions/:hash.
func (h *Handler) KickSession(c *gin.Context) {
	err := h.svc.KickSession(c.Request.Context(), middleware.CurrentUserID(c), c.Param("hash"), c.ClientIP())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

// ChangePassword handles POST /auth/password.
func (h *Handler) ChangePassword(c *gin.Context) {
	var dto ChangePasswordDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	err := h.svc.ChangePassword(c.Request.Context(), middleware.CurrentUserID(c), &dto, c.ClientIP())
	if err != nil {
		if errors.Is(err, errBadCredentials) {
			response.Unauthorized(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
