package models

import "time"

// Role constants for staff accounts.
const (
	RoleAdmin     = "admin"
	RolePrincipal = "principal"
	RoleTeacher   = "teacher"
	RoleParent    = "parent"
)

// UserModel represents a staff or parent account within one tenant
// (kindergarten). The phone number doubles as the login identifier.
type UserModel struct {
	Base
	Phone         string     `json:"phone"           gorm:"uniqueIndex;not null"`
	Name          string     `json:"name"`
	Password      string     `json:"-"               gorm:"not null"`
	Role          string     `json:"role"            gorm:"index;not null;default:teacher"`
	TenantCode    string     `json:"tenant_code"     gorm:"index;not null"`
	Disabled      bool       `json:"disabled"`
	LastLoginTime *time.Time `json:"last_login_time"`
	LastLoginIP   string     `json:"last_login_ip"`
}

func (UserModel) TableName() string { return "users" }
