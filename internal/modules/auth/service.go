package auth

import (
	"context"
	"errors"
	"time"

	"github.com/yyupcompany/kinder-core/internal/config"
	"github.com/yyupcompany/kinder-core/internal/models"
	"github.com/yyupcompany/kinder-core/internal/pkg/audit"
	"github.com/yyupcompany/kinder-core/internal/pkg/blacklist"
	jwtpkg "github.com/yyupcompany/kinder-core/internal/pkg/jwt"
	"github.com/yyupcompany/kinder-core/internal/pkg/keyring"
	"github.com/yyupcompany/kinder-core/internal/pkg/sessions"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	errBadCredentials  = errors.New("wrong phone or password")
	errAccountDisabled = errors.New("account disabled")
)

// Service implements the authentication flows on top of the security core.
type Service struct {
	db       *gorm.DB
	keys     *keyring.Manager
	registry *sessions.Registry
	bl       *blacklist.Blacklist
	auditor  *audit.Recorder
	cfg      config.SessionConfig
	log      *zap.Logger
}

func NewService(db *gorm.DB, keys *keyring.Manager, registry *sessions.Registry, bl *blacklist.Blacklist, auditor *audit.Recorder, cfg config.SessionConfig, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		keys:     keys,
		registry: registry,
		bl:       bl,
		auditor:  auditor,
		cfg:      cfg,
		log:      logger.Named("AuthService"),
	}
}

// Login checks credentials, mints a session token with the ACTIVE signing key
// and registers the session. A session-store outage degrades to "no SSO
// enforcement" and never blocks the login itself.
func (s *Service) Login(ctx context.Context, dto *LoginDTO, ip, ua string) (*LoginResult, error) {
	var u models.UserModel
	if err := s.db.WithContext(ctx).
		Where("phone = ?", dto.Phone).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			time.Sleep(3 * time.Second)
			s.auditor.RecordIP(ctx, dto.Phone, "", "auth.login", "unknown_account", "", ip)
			return nil, errBadCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(dto.Password)); err != nil {
		time.Sleep(3 * time.Second)
		s.auditor.RecordIP(ctx, u.ID, "", "auth.login", "wrong_password", "", ip)
		return nil, errBadCredentials
	}
	if u.Disabled {
		s.auditor.RecordIP(ctx, u.ID, "", "auth.login", "disabled", "", ip)
		return nil, errAccountDisabled
	}

	ttl := time.Duration(s.cfg.TTLSeconds) * time.Second
	token, err := jwtpkg.Sign(ctx, s.keys, jwtpkg.Claims{
		UserID:     u.ID,
		Role:       u.Role,
		TenantCode: u.TenantCode,
		DeviceID:   dto.DeviceID,
	}, ttl)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := sessions.Session{
		UserID:         u.ID,
		TokenHash:      blacklist.HashToken(token),
		Role:           u.Role,
		LoginTime:      now,
		LastActiveTime: now,
		IP:             ip,
		UserAgent:      ua,
		DeviceID:       dto.DeviceID,
		ExpiresAt:      now.Add(ttl),
	}
	if err := s.registry.Create(ctx, sess, s.cfg.SingleSignOn); err != nil {
		s.log.Warn("session tracking degraded for login", zap.String("userId", u.ID), zap.Error(err))
	}

	s.db.WithContext(ctx).Model(&u).Updates(map[string]interface{}{
		"last_login_time": now,
		"last_login_ip":   ip,
	})
	s.auditor.RecordIP(ctx, u.ID, "", "auth.login", "success", "", ip)

	return &LoginResult{
		Token:     token,
		ExpiresAt: sess.ExpiresAt,
		UserID:    u.ID,
		Name:      u.Name,
		Role:      u.Role,
		Tenant:    u.TenantCode,
	}, nil
}

// Logout removes the session and blacklists its token until the token's own
// expiry. Session-store failures degrade with a logged warning.
func (s *Service) Logout(ctx context.Context, userID, tokenHash, ip string) error {
	expiresAt := time.Now().Add(time.Duration(s.cfg.TTLSeconds) * time.Second)
	if sess, err := s.registry.Get(ctx, userID, tokenHash); err == nil && sess != nil {
		expiresAt = sess.ExpiresAt
	}
	if err := s.bl.RevokeHash(ctx, tokenHash, blacklist.ReasonLogout, expiresAt, userID); err != nil {
		// Revocation is security-critical; a failure here must surface.
		return err
	}
	if err := s.registry.Delete(ctx, userID, tokenHash); err != nil {
		s.log.Warn("session delete degraded for logout", zap.String("userId", userID), zap.Error(err))
	}
	s.auditor.RecordIP(ctx, userID, "", "auth.logout", "success", "", ip)
	return nil
}

// ListSessions returns the caller's active sessions.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]sessions.Session, error) {
	return s.registry.List(ctx, userID)
}

// KickSession evicts one of the caller's other devices.
func (s *Service) KickSession(ctx context.Context, userID, tokenHash, ip string) error {
	sess, err := s.registry.Get(ctx, userID, tokenHash)
	if err != nil {
		return err
	}
	if sess == nil {
		return gorm.ErrRecordNotFound
	}
	if err := s.bl.RevokeHash(ctx, tokenHash, blacklist.ReasonDeviceChange, sess.ExpiresAt, userID); err != nil {
		return err
	}
	if err := s.registry.Delete(ctx, userID, tokenHash); err != nil {
		return err
	}
	s.auditor.RecordIP(ctx, userID, tokenHash, "auth.kick_session", "success", "", ip)
	return nil
}

// ChangePassword rotates the credential and immediately revokes every
// outstanding token and session of the user. Visibility is immediate: the
// blacklist writes hit the authoritative store before this returns.
func (s *Service) ChangePassword(ctx context.Context, userID string, dto *ChangePasswordDTO, ip string) error {
	var u models.UserModel
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(dto.OldPassword)); err != nil {
		s.auditor.RecordIP(ctx, userID, "", "auth.change_password", "wrong_password", "", ip)
		return errBadCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(dto.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&u).Update("password", string(hash)).Error; err != nil {
		return err
	}

	expiresAt := time.Now().Add(time.Duration(s.cfg.TTLSeconds) * time.Second)
	if _, err := s.registry.EvictAll(ctx, userID, "", blacklist.ReasonPasswordChange); err != nil {
		return err
	}
	if _, err := s.bl.RevokeAllForUser(ctx, userID, blacklist.ReasonPasswordChange, expiresAt); err != nil {
		return err
	}
	s.auditor.RecordIP(ctx, userID, "", "auth.change_password", "success", "", ip)
	return nil
}
