package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yyupcompany/kinder-core/internal/config"
	"github.com/yyupcompany/kinder-core/internal/database"
	"github.com/yyupcompany/kinder-core/internal/middleware"
	"github.com/yyupcompany/kinder-core/internal/pkg/audit"
	"github.com/yyupcompany/kinder-core/internal/pkg/blacklist"
	pkgcron "github.com/yyupcompany/kinder-core/internal/pkg/cron"
	"github.com/yyupcompany/kinder-core/internal/pkg/keyring"
	"github.com/yyupcompany/kinder-core/internal/pkg/kv"
	pkgredis "github.com/yyupcompany/kinder-core/internal/pkg/redis"
	"github.com/yyupcompany/kinder-core/internal/pkg/sessions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	store  kv.Store
	logger *zap.Logger
	cancel context.CancelFunc

	keys      *keyring.Manager
	blacklist *blacklist.Blacklist
	registry  *sessions.Registry
	auditor   *audit.Recorder
	sched     *pkgcron.Scheduler
}

// New initializes the application: config → DB → Redis → security core → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	var (
		store kv.Store
		rc    *pkgredis.Client
	)
	if cfg.RedisURL != "" {
		rc, err = pkgredis.Connect(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		store = kv.NewRedisStore(rc.Raw(), 0)
	} else {
		if !cfg.IsDev() {
			return nil, errors.New("redis_url is required in production")
		}
		logger.Warn("redis_url is empty, using in-memory store; tokens will not survive restarts")
		store = kv.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())

	auditor := audit.NewRecorder(db, logger)
	keys := keyring.New(store, keyring.Config{
		RotationInterval: time.Duration(cfg.Security.KeyRotation.IntervalSeconds) * time.Second,
		GracePeriod:      time.Duration(cfg.Security.KeyRotation.GracePeriodSeconds) * time.Second,
		KeyLength:        cfg.Security.KeyRotation.KeyLengthBytes,
		MaxActiveKeys:    cfg.Security.KeyRotation.MaxActiveKeys,
		Algorithm:        cfg.Security.KeyRotation.Algorithm,
		BootstrapSecret:  cfg.Security.KeyRotation.BootstrapSecret,
	}, logger, auditor)
	if err := keys.EnsureInitialized(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("signing keys: %w", err)
	}

	bl := blacklist.New(store, blacklist.Config{
		MaxEntries: cfg.Security.Blacklist.MaxEntries,
	}, logger)

	registry := sessions.New(store, bl, sessions.Config{
		TTL:         time.Duration(cfg.Security.Session.TTLSeconds) * time.Second,
		IdleTimeout: time.Duration(cfg.Security.Session.IdleTimeoutSeconds) * time.Second,
	}, logger)

	// Other instances publish on rotation; drop our key cache when they do.
	if rc != nil {
		sub := rc.Subscribe(ctx, keyring.EventChannel)
		go func() {
			defer sub.Close()
			ch := sub.Channel()
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					keys.Invalidate()
				}
			}
		}()
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(buildCORSConfig(cfg)))

	sched := pkgcron.New(store, logger)
	registerCronJobs(sched, cfg, keys, bl, registry, auditor, logger)
	go sched.Start(ctx)

	app := &App{
		cfg:       cfg,
		router:    router,
		db:        db,
		store:     store,
		logger:    logger,
		cancel:    cancel,
		keys:      keys,
		blacklist: bl,
		registry:  registry,
		auditor:   auditor,
		sched:     sched,
	}
	app.registerRoutes()
	return app, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown cleans up background goroutines.
func (a *App) Shutdown() { a.cancel() }

func buildCORSConfig(cfg *config.AppConfig) cors.Config {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Access-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		patterns := cfg.AllowedOrigins
		corsConfig.AllowOriginFunc = func(origin string) bool {
			host := extractOriginHost(origin)
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, host) {
					return true
				}
			}
			return false
		}
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	return corsConfig
}

// extractOriginHost returns the "host[:port]" portion of an origin URL.
func extractOriginHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}

// matchOriginPattern reports whether host matches the given wildcard pattern.
func matchOriginPattern(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix)
	}
	if strings.HasSuffix(pattern, ":*") {
		prefix := pattern[:len(pattern)-1]
		return strings.HasPrefix(host, prefix)
	}
	return false
}
