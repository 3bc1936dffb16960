package models

import "time"

// AuditLogModel is the append-only security audit trail. Authorization
// failures surface to clients as a generic 401; the distinguishing detail
// lives only here.
type AuditLogModel struct {
	ID        uint64    `json:"id"      gorm:"primaryKey;autoIncrement"`
	Actor     string    `json:"actor"   gorm:"index;size:64"`
	Subject   string    `json:"subject" gorm:"index;size:191"`
	Action    string    `json:"action"  gorm:"index;size:64;not null"`
	Outcome   string    `json:"outcome" gorm:"size:32;not null"`
	Detail    string    `json:"detail"  gorm:"type:text"`
	IP        string    `json:"ip"      gorm:"size:64"`
	CreatedAt time.Time `json:"created" gorm:"index"`
}

func (AuditLogModel) TableName() string { return "audit_logs" }
