// Package audit writes the append-only security audit trail. Recording never
// blocks or fails the calling flow; a write failure is itself logged as a
// reliability event.
package audit

import (
	"context"

	"github.com/yyupcompany/kinder-core/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Recorder persists audit entries through gorm.
type Recorder struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(db *gorm.DB, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: db, log: logger.Named("Audit")}
}

// Record appends one entry. Satisfies keyring.Auditor.
func (r *Recorder) Record(ctx context.Context, actor, subject, action, outcome, detail string) {
	r.RecordIP(ctx, actor, subject, action, outcome, detail, "")
}

// RecordIP appends one entry including the caller address.
func (r *Recorder) RecordIP(ctx context.Context, actor, subject, action, outcome, detail, ip string) {
	row := models.AuditLogModel{
		Actor:   actor,
		Subject: subject,
		Action:  action,
		Outcome: outcome,
		Detail:  detail,
		IP:      ip,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("outcome", outcome),
			zap.Error(err))
	}
}

// Prune drops entries older than the retention horizon. Returns rows removed.
func (r *Recorder) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < DATE_SUB(NOW(), INTERVAL ? DAY)", olderThanDays).
		Delete(&models.AuditLogModel{})
	return res.RowsAffected, res.Error
}
