package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/pkg/audit"
	"github.com/yyupcompany/kinder-core/internal/pkg/blacklist"
	"github.com/yyupcompany/kinder-core/internal/pkg/jwt"
	"github.com/yyupcompany/kinder-core/internal/pkg/keyring"
	"github.com/yyupcompany/kinder-core/internal/pkg/response"
	"github.com/yyupcompany/kinder-core/internal/pkg/sessions"
	"go.uber.org/zap"
)

const (
	ContextKeyUserID    = "user_id"
	ContextKeyRole      = "role"
	ContextKeyTenant    = "tenant_code"
	ContextKeyTokenHash = "token_hash"
)

// AuthDeps bundles the services the auth gate consults on every request.
type AuthDeps struct {
	Keys      *keyring.Manager
	Blacklist *blacklist.Blacklist
	Sessions  *sessions.Registry
	Audit     *audit.Recorder
	Log       *zap.Logger
}

// Auth returns the authentication gate: signature and expiry against every
// valid signing key, then the blacklist, then session presence. failClosed
// controls the blacklist-outage policy: true denies when the blacklist cannot
// be consulted (admin and security-sensitive routes), false lets the request
// through with a logged reliability event.
func Auth(d AuthDeps, failClosed bool) gin.HandlerFunc {
	log := d.Log.Named("AuthGate")
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c)
			return
		}

		claims, keyID, err := jwt.Verify(ctx, d.Keys, token)
		if err != nil {
			outcome := "invalid_signature"
			if errors.Is(err, jwt.ErrTokenExpired) {
				outcome = "expired"
			} else if errors.Is(err, keyring.ErrNoActiveKey) {
				outcome = "no_active_key"
				log.Error("token verification impossible", zap.Error(err))
			}
			d.Audit.RecordIP(ctx, "", "", "auth.verify", outcome, err.Error(), c.ClientIP())
			response.Unauthorized(c)
			return
		}

		revoked, err := d.Blacklist.IsBlacklisted(ctx, token)
		if err != nil {
			log.Warn("blacklist unavailable", zap.Bool("failClosed", failClosed), zap.Error(err))
			if failClosed {
				d.Audit.RecordIP(ctx, claims.UserID, keyID, "auth.verify", "blacklist_unavailable", err.Error(), c.ClientIP())
				response.Unauthorized(c)
				return
			}
		} else if revoked {
			d.Audit.RecordIP(ctx, claims.UserID, keyID, "auth.verify", "revoked", "blacklisted token presented", c.ClientIP())
			response.Unauthorized(c)
			return
		}

		hash := blacklist.HashToken(token)
		s, serr := d.Sessions.Get(ctx, claims.UserID, hash)
		if serr != nil {
			// Session-store outage degrades to "no SSO enforcement", never a
			// blocked login. Still a reliability event.
			log.Warn("session store unavailable, skipping session check", zap.Error(serr))
		} else if s == nil {
			d.Audit.RecordIP(ctx, claims.UserID, keyID, "auth.verify", "session_absent", "token has no live session", c.ClientIP())
			response.Unauthorized(c)
			return
		} else {
			if err := d.Sessions.Touch(ctx, claims.UserID, hash); err != nil {
				log.Warn("session touch failed", zap.Error(err))
			}
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyTenant, claims.TenantCode)
		c.Set(ContextKeyTokenHash, hash)
		c.Next()
	}
}

// RequireRole returns a gate allowing only the listed roles. Must run after
// Auth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CurrentRole(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.Forbidden(c)
	}
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	v, _ := c.Get(ContextKeyUserID)
	id, _ := v.(string)
	return id
}

// CurrentRole extracts the authenticated role from context.
func CurrentRole(c *gin.Context) string {
	v, _ := c.Get(ContextKeyRole)
	role, _ := v.(string)
	return role
}

// CurrentTenant extracts the caller's tenant code from context.
func CurrentTenant(c *gin.Context) string {
	v, _ := c.Get(ContextKeyTenant)
	t, _ := v.(string)
	return t
}

// CurrentTokenHash extracts the fingerprint of the presented token.
func CurrentTokenHash(c *gin.Context) string {
	v, _ := c.Get(ContextKeyTokenHash)
	h, _ := v.(string)
	return h
}

func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return NormalizeToken(auth)
	}
	return NormalizeToken(c.Query("token"))
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
