package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yyupcompany/kinder-core/internal/config"
	"github.com/yyupcompany/kinder-core/internal/pkg/audit"
	"github.com/yyupcompany/kinder-core/internal/pkg/blacklist"
	pkgcron "github.com/yyupcompany/kinder-core/internal/pkg/cron"
	"github.com/yyupcompany/kinder-core/internal/pkg/keyring"
	"github.com/yyupcompany/kinder-core/internal/pkg/sessions"
	"go.uber.org/zap"
)

// registerCronJobs registers all scheduled background jobs.
func registerCronJobs(
	sched *pkgcron.Scheduler,
	cfg *config.AppConfig,
	keys *keyring.Manager,
	bl *blacklist.Blacklist,
	registry *sessions.Registry,
	auditor *audit.Recorder,
	logger *zap.Logger,
) {
	cronLogger := logger.Named("CronService")

	sched.Register(pkgcron.Job{
		Name:        "rotate_signing_key",
		Description: "定期轮换签名密钥",
		Interval:    time.Duration(cfg.Security.KeyRotation.IntervalSeconds) * time.Second,
		Exclusive:   true,
		Fn: func(ctx context.Context) error {
			key, err := keys.Rotate(ctx)
			if err != nil {
				if errors.Is(err, keyring.ErrRotationConflict) {
					cronLogger.Info("其他实例已完成密钥轮换，本次跳过")
					return nil
				}
				cronLogger.Warn("密钥轮换失败", zap.Error(err))
				return err
			}
			cronLogger.Info("密钥轮换成功", zap.String("keyId", key.ID), zap.Int64("version", key.Version))
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "sweep_blacklist",
		Description: "清理过期的令牌黑名单记录",
		Interval:    time.Duration(cfg.Security.Blacklist.CleanupIntervalSeconds) * time.Second,
		Exclusive:   true,
		Fn: func(ctx context.Context) error {
			removed, err := bl.Sweep(ctx)
			if err != nil {
				cronLogger.Warn("黑名单清理失败", zap.Error(err))
				return err
			}
			cronLogger.Info(fmt.Sprintf("黑名单清理完成，共删除 %d 条", removed))
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "sweep_sessions",
		Description: "回收闲置超时的登录会话",
		Interval:    5 * time.Minute,
		Exclusive:   true,
		Fn: func(ctx context.Context) error {
			evicted, err := registry.SweepIdle(ctx)
			if err != nil {
				cronLogger.Warn("会话回收失败", zap.Error(err))
				return err
			}
			if evicted > 0 {
				cronLogger.Info(fmt.Sprintf("会话回收完成，共下线 %d 个闲置会话", evicted))
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "prune_audit_logs",
		Description: "清理过期的安全审计日志",
		Interval:    24 * time.Hour,
		Exclusive:   true,
		Fn: func(ctx context.Context) error {
			days := cfg.Security.AuditRetentionDays
			pruned, err := auditor.Prune(ctx, days)
			if err != nil {
				cronLogger.Warn("审计日志清理失败", zap.Error(err))
				return err
			}
			cronLogger.Info(fmt.Sprintf("审计日志清理完成，共删除 %d 条（保留 %d 天）", pruned, days))
			return nil
		},
	})
}
