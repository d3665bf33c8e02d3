package security

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/coursiva/auth-service/internal/domain"
	"github.com/coursiva/auth-service/internal/store"
)

// AuthResult is the outcome of a successful credential verification. Either
// SessionToken is set, or RequiresTwoFactor is true and TempToken carries the
// narrowly-scoped token for the 2FA step.
type AuthResult struct {
	Credential        *domain.Credential
	SessionToken      string
	RequiresTwoFactor bool
	TempToken         string

	// Populated by CompleteTwoFactor when a backup code satisfied the factor.
	BackupCodeUsed       bool
	RemainingBackupCodes int
}

// Authenticator is the credential verification gate. It routes failures to
// the lockout service, successes toward the 2FA step or session issuance.
type Authenticator struct {
	users     store.UserRepository
	lockout   *LockoutService
	twoFactor *TwoFactorService
	sessions  *SessionService
	passwords *PasswordEnforcer
	notifier  Notifier

	now func() time.Time
}

func NewAuthenticator(
	users store.UserRepository,
	lockout *LockoutService,
	twoFactor *TwoFactorService,
	sessions *SessionService,
	passwords *PasswordEnforcer,
	notifier Notifier,
) *Authenticator {
	return &Authenticator{
		users:     users,
		lockout:   lockout,
		twoFactor: twoFactor,
		sessions:  sessions,
		passwords: passwords,
		notifier:  notifier,
		now:       time.Now,
	}
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Authenticate verifies identity and password. Unknown identities and wrong
// passwords both count toward lockout and both surface as invalid
// credentials, so the two are indistinguishable from outside.
func (a *Authenticator) Authenticate(ctx context.Context, identity, password, origin string) (*AuthResult, error) {
	identity = normalizeIdentity(identity)

	lock, err := a.lockout.CheckAccountLock(ctx, identity, origin)
	if err != nil {
		log.Printf("Lock check failed for %q: %v", identity, err)
		return nil, domain.ErrStoreUnavailable
	}
	if lock.IsLocked {
		return nil, &domain.AccountLockedError{LockedUntil: *lock.LockedUntil, Reason: lock.Reason}
	}

	cred, err := a.users.FindByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if _, trackErr := a.lockout.TrackFailedLogin(ctx, identity, origin); trackErr != nil {
				log.Printf("Could not track failed login for %q: %v", identity, trackErr)
			}
			return nil, domain.ErrInvalidCredentials
		}
		return nil, domain.ErrStoreUnavailable
	}

	if !cred.IsActive {
		return nil, domain.ErrAccountDeactivated
	}

	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		if _, trackErr := a.lockout.TrackFailedLogin(ctx, identity, origin); trackErr != nil {
			log.Printf("Could not track failed login for %q: %v", identity, trackErr)
		}
		return nil, domain.ErrInvalidCredentials
	}

	// Clear before issuing anything so an immediately following failure
	// starts a fresh count instead of extending an old window.
	if err := a.lockout.ClearFailedAttempts(ctx, identity, origin); err != nil {
		log.Printf("Could not clear failed attempts for %q: %v", identity, err)
	}

	a.recordLogin(ctx, cred)

	if cred.Security.TwoFactorEnabled {
		tempToken, err := a.sessions.IssueTwoFactorToken(cred)
		if err != nil {
			return nil, err
		}
		return &AuthResult{Credential: cred, RequiresTwoFactor: true, TempToken: tempToken}, nil
	}

	token, err := a.sessions.IssueSession(ctx, cred)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Credential: cred, SessionToken: token}, nil
}

// CompleteTwoFactor exchanges a valid 2FA-pending token plus a TOTP or backup
// code for a full session.
func (a *Authenticator) CompleteTwoFactor(ctx context.Context, tempToken, code, origin string) (*AuthResult, error) {
	pending, err := a.sessions.ValidateTwoFactorToken(tempToken)
	if err != nil {
		return nil, err
	}

	cred, err := a.users.FindByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidSessionToken
		}
		return nil, domain.ErrStoreUnavailable
	}
	if !cred.IsActive {
		return nil, domain.ErrAccountDeactivated
	}

	verification, err := a.twoFactor.VerifyLogin(ctx, cred, code)
	if err != nil {
		return nil, err
	}

	token, err := a.sessions.IssueSession(ctx, cred)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Credential:           cred,
		SessionToken:         token,
		BackupCodeUsed:       verification.BackupCodeUsed,
		RemainingBackupCodes: verification.RemainingBackupCodes,
	}, nil
}

// Register creates a credential with security defaults: unlocked, two-factor
// disabled. The candidate password must pass the current policy.
func (a *Authenticator) Register(ctx context.Context, email, password string, role domain.Role) (*domain.Credential, error) {
	email = normalizeIdentity(email)
	if !domain.ValidRole(role) {
		role = domain.RoleStudent
	}

	if err := a.passwords.Validate(ctx, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	cred := &domain.Credential{
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	id, err := a.users.Create(ctx, cred)
	if err != nil {
		return nil, err
	}
	cred.ID = id
	cred.CreatedAt = a.now()
	cred.Security.LastPasswordChange = cred.CreatedAt
	return cred, nil
}

// ChangePassword verifies the current secret, enforces policy on the new one
// and rehashes. The change is announced so other devices can be notified.
func (a *Authenticator) ChangePassword(ctx context.Context, userID, current, next string) error {
	cred, err := a.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return domain.ErrStoreUnavailable
	}

	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(current)) != nil {
		return domain.ErrInvalidCredentials
	}
	if err := a.passwords.Validate(ctx, next); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	cred.PasswordHash = string(hash)
	cred.Security.LastPasswordChange = a.now()
	if err := a.users.Save(ctx, cred); err != nil {
		return domain.ErrStoreUnavailable
	}

	a.notifier.Dispatch("security.password_changed", domain.PasswordChangedEvent{
		Email:     cred.Email,
		ChangedAt: cred.Security.LastPasswordChange,
	})
	return nil
}

// recordLogin stamps last_login and resets the informational failure counter.
// Best-effort: a write failure must not fail the login itself.
func (a *Authenticator) recordLogin(ctx context.Context, cred *domain.Credential) {
	now := a.now()
	cred.LastLogin = &now
	cred.Security.FailedLoginAttempts = 0
	if err := a.users.Save(ctx, cred); err != nil {
		log.Printf("Could not record login for %q: %v", cred.Email, err)
	}
}
