package domain

// SecurityPolicy is the platform-wide security configuration. It is owned by
// the settings collaborator and read fresh on every call; nothing in this
// service caches it across requests.
type SecurityPolicy struct {
	PasswordMinLength          int  `json:"password_min_length"`
	RequireUppercase           bool `json:"require_uppercase"`
	RequireNumbers             bool `json:"require_numbers"`
	RequireSymbols             bool `json:"require_symbols"`
	LoginAttempts              int  `json:"login_attempts"`
	AccountLockDurationMinutes int  `json:"account_lock_duration_minutes"`
	SessionTimeoutMinutes      int  `json:"session_timeout_minutes"`
}

// DefaultSecurityPolicy returns the conservative fallback used when the
// settings store cannot be reached. Complexity flags stay off so a settings
// outage can never hard-block logins or password changes; only the minimum
// length is enforced.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		PasswordMinLength:          8,
		RequireUppercase:           false,
		RequireNumbers:             false,
		RequireSymbols:             false,
		LoginAttempts:              5,
		AccountLockDurationMinutes: 30,
		SessionTimeoutMinutes:      60,
	}
}
