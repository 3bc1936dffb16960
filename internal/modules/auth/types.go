package auth

import "time"

// LoginDTO is the credential payload.
type LoginDTO struct {
	Phone    string `json:"phone"     binding:"required"`
	Password string `json:"password"  binding:"required"`
	DeviceID string `json:"device_id"`
}

// LoginResult returns the minted session token and account summary.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Tenant    string    `json:"tenant_code"`
}

// ChangePasswordDTO carries a password rotation request.
type ChangePasswordDTO struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}
