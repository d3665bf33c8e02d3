package domain

import "time"

// Role defines the platform role of a credential.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// SecurityRecord holds the security state embedded in every credential.
// Lock fields are written by the lockout coordinator; admin tooling writes
// the same fields externally.
type SecurityRecord struct {
	IsLocked            bool       `json:"is_locked"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"` // Pointer to handle null
	LockReason          string     `json:"lock_reason,omitempty"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	TwoFactorEnabled    bool       `json:"two_factor_enabled"`
	TwoFactorSecret     *string    `json:"-"`
	BackupCodes         []string   `json:"-"`
	LastPasswordChange  time.Time  `json:"last_password_change"`
}

// Credential represents an account in the platform's auth store.
type Credential struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"-"`
	Role         Role           `json:"role"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	LastLogin    *time.Time     `json:"last_login,omitempty"`
	Security     SecurityRecord `json:"security"`
}

// CredentialView is the public shape of a credential, safe to return to
// clients. It never carries the password hash, the TOTP secret or the
// backup codes.
type CredentialView struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Role             Role       `json:"role"`
	IsActive         bool       `json:"is_active"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
}

// PublicView strips the credential down to client-safe fields.
func (c *Credential) PublicView() *CredentialView {
	return &CredentialView{
		ID:               c.ID,
		Email:            c.Email,
		Role:             c.Role,
		IsActive:         c.IsActive,
		TwoFactorEnabled: c.Security.TwoFactorEnabled,
		CreatedAt:        c.CreatedAt,
		LastLogin:        c.LastLogin,
	}
}

// ValidRole reports whether r is one of the known platform roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}
