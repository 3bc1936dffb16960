package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/config"
	"github.com/yyupcompany/kinder-core/internal/middleware"
	"github.com/yyupcompany/kinder-core/internal/modules/auth"
	"github.com/yyupcompany/kinder-core/internal/modules/security"
	"github.com/yyupcompany/kinder-core/internal/modules/storage"
	"github.com/yyupcompany/kinder-core/internal/modules/tenant"
	"github.com/yyupcompany/kinder-core/internal/pkg/oss"
	"github.com/yyupcompany/kinder-core/internal/pkg/response"
	"github.com/yyupcompany/kinder-core/internal/pkg/tenanttoken"
	"go.uber.org/zap"
)

func (a *App) registerRoutes() {
	r := a.router

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	deps := middleware.AuthDeps{
		Keys:      a.keys,
		Blacklist: a.blacklist,
		Sessions:  a.registry,
		Audit:     a.auditor,
		Log:       a.logger,
	}
	// Regular routes stay available during a blacklist outage; the admin
	// surface denies instead.
	authMW := middleware.Auth(deps, false)
	adminMW := []gin.HandlerFunc{
		middleware.Auth(deps, true),
		middleware.RequireRole("admin", "principal"),
	}

	tenantIssuer := tenanttoken.New(issuerConfig(a.cfg.Security.TenantToken))
	ossIssuer := tenanttoken.New(issuerConfig(a.cfg.Security.OSSToken))

	ossClient, err := oss.New(a.cfg.S3)
	if err != nil {
		a.logger.Warn("对象存储初始化失败，相关接口不可用", zap.Error(err))
	}

	authSvc := auth.NewService(a.db, a.keys, a.registry, a.blacklist, a.auditor, a.cfg.Security.Session, a.logger)
	authH := auth.NewHandler(authSvc)
	secH := security.NewHandler(a.db, a.keys, a.registry, a.blacklist, a.auditor, a.sched, a.logger)
	storageH := storage.NewHandler(ossIssuer, ossClient, a.auditor, a.logger)
	tenantH := tenant.NewHandler(tenantIssuer, a.auditor, a.logger)

	apiPrefix := "/api/v2"

	r.GET(apiPrefix+"/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	authGroup := r.Group(apiPrefix + "/auth")
	{
		authGroup.POST("/login", middleware.LoginRateLimit(a.store), authH.Login)
		authGroup.POST("/logout", authMW, authH.Logout)
		authGroup.GET("/sessions", authMW, authH.Sessions)
		authGroup.DELETE("/sessions/:hash", authMW, authH.KickSession)
		authGroup.POST("/password", authMW, authH.ChangePassword)
	}

	secGroup := r.Group(apiPrefix+"/security", adminMW...)
	{
		secGroup.POST("/keys/rotate", secH.RotateKey)
		secGroup.GET("/keys", secH.ListKeys)
		secGroup.GET("/stats", secH.Stats)
		secGroup.POST("/users/:uid/revoke", secH.RevokeUser)
		secGroup.GET("/audit", secH.AuditLogs)
		secGroup.GET("/cron", secH.Cron)
		secGroup.POST("/cron/:name/run", secH.RunCron)
	}

	objGroup := r.Group(apiPrefix + "/objects")
	{
		objGroup.POST("/token", authMW, storageH.IssueToken)
		objGroup.POST("/upload", authMW, storageH.Upload)
		objGroup.GET("/dl/*path", authMW, middleware.TenantAccess(ossIssuer, a.auditor, a.logger), storageH.Download)
	}

	tenantGroup := r.Group(apiPrefix + "/tenant")
	{
		tenantGroup.POST("/token", authMW, tenantH.Issue)
		tenantGroup.POST("/validate", authMW, tenantH.Validate)
	}
}

func issuerConfig(c config.TenantTokenConfig) tenanttoken.Config {
	return tenanttoken.Config{
		Window:         time.Duration(c.WindowSeconds) * time.Second,
		ValidityBuffer: time.Duration(c.ValidityBufferSeconds) * time.Second,
		Prefix:         c.Prefix,
		Salt:           c.Salt,
		PublicPrefixes: c.PublicPrefixes,
		BasePrefix:     c.BasePrefix,
	}
}
