package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Authentication failures are deliberately indistinguishable to callers:
// unknown identity and wrong password both surface ErrInvalidCredentials,
// and every two-factor failure surfaces ErrInvalidTwoFactorCode regardless
// of whether the code, the secret or the time window was wrong.
var (
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrAccountDeactivated      = errors.New("account is deactivated")
	ErrInvalidTwoFactorCode    = errors.New("invalid two-factor code")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrInvalidSessionToken     = errors.New("invalid session token")
	ErrSessionExpired          = errors.New("session expired")
	ErrNotFound                = errors.New("not found")
	ErrStoreUnavailable        = errors.New("account store unavailable")
)

// AccountLockedError is returned while a credential is inside its lock
// window. It carries the data the client needs to render a retry time.
type AccountLockedError struct {
	LockedUntil time.Time
	Reason      string
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s: %s", e.LockedUntil.Format(time.RFC3339), e.Reason)
}

// PasswordPolicyError reports every rule a candidate password violated, not
// just the first one.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Violations, "; ")
}
