package security

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/coursiva/auth-service/internal/domain"
	"github.com/coursiva/auth-service/internal/store"
)

const (
	lockReasonTooManyAttempts = "Too many failed login attempts"

	// attemptRetention bounds how long a pre-lock counter survives in the
	// shared store; in-memory records live until cleared or locked.
	attemptRetention = 24 * time.Hour
)

// Notifier dispatches security events without blocking the caller.
type Notifier interface {
	Dispatch(eventType string, payload any)
}

// LockResult is what callers consult before letting a login proceed.
type LockResult struct {
	IsLocked          bool
	AttemptsRemaining int
	LockedUntil       *time.Time
	Reason            string
}

// LockoutService tracks failed logins per (identity, origin) and reconciles
// that ephemeral view with the lock fields persisted on the credential.
//
// Known weakness, kept deliberately: because the key includes the origin, an
// attacker rotating origins accumulates independent counters and can sidestep
// the lockout threshold.
type LockoutService struct {
	attempts AttemptStore
	users    store.UserRepository
	policy   store.PolicyProvider
	notifier Notifier

	now func() time.Time
}

func NewLockoutService(attempts AttemptStore, users store.UserRepository, policy store.PolicyProvider, notifier Notifier) *LockoutService {
	return &LockoutService{
		attempts: attempts,
		users:    users,
		policy:   policy,
		notifier: notifier,
		now:      time.Now,
	}
}

func attemptKey(identity, origin string) string {
	return strings.ToLower(strings.TrimSpace(identity)) + "|" + origin
}

func (s *LockoutService) currentPolicy(ctx context.Context) domain.SecurityPolicy {
	pol, err := s.policy.GetPolicy(ctx)
	if err != nil {
		// Already logged by the provider; defaults keep login working.
		return domain.DefaultSecurityPolicy()
	}
	return pol
}

// TrackFailedLogin records one failure. Crossing the policy threshold locks
// the pair, durably writes the lock onto the matching credential when one
// exists, and fires an account_locked notification. Notification failures
// never affect the lock result.
func (s *LockoutService) TrackFailedLogin(ctx context.Context, identity, origin string) (LockResult, error) {
	pol := s.currentPolicy(ctx)

	att, err := s.attempts.Increment(ctx, attemptKey(identity, origin), attemptRetention)
	if err != nil {
		return LockResult{}, err
	}

	if att.Count < pol.LoginAttempts {
		return LockResult{
			IsLocked:          false,
			AttemptsRemaining: pol.LoginAttempts - att.Count,
		}, nil
	}

	until := s.now().Add(time.Duration(pol.AccountLockDurationMinutes) * time.Minute)
	if err := s.attempts.Lock(ctx, attemptKey(identity, origin), until); err != nil {
		return LockResult{}, err
	}

	s.persistLock(ctx, identity, until, att.Count)

	if att.Count == pol.LoginAttempts {
		s.notifier.Dispatch("account.locked", domain.AccountLockedEvent{
			Email:       strings.ToLower(strings.TrimSpace(identity)),
			Origin:      origin,
			LockedUntil: until,
			Reason:      lockReasonTooManyAttempts,
			Attempts:    att.Count,
		})
	}

	return LockResult{
		IsLocked:          true,
		AttemptsRemaining: 0,
		LockedUntil:       &until,
		Reason:            lockReasonTooManyAttempts,
	}, nil
}

// persistLock writes the lock onto the credential. Unknown identities are
// tolerated: the ephemeral record still locks the pair on its own.
func (s *LockoutService) persistLock(ctx context.Context, identity string, until time.Time, attempts int) {
	cred, err := s.users.FindByEmail(ctx, identity)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Printf("Could not load credential %q to persist lock: %v", identity, err)
		}
		return
	}

	cred.Security.IsLocked = true
	cred.Security.LockedUntil = &until
	cred.Security.LockReason = lockReasonTooManyAttempts
	cred.Security.FailedLoginAttempts = attempts
	if err := s.users.Save(ctx, cred); err != nil {
		log.Printf("Could not persist lock for %q: %v", identity, err)
	}
}

// ClearFailedAttempts removes the ephemeral record after a successful
// authentication so the next failure starts a fresh count.
func (s *LockoutService) ClearFailedAttempts(ctx context.Context, identity, origin string) error {
	return s.attempts.Clear(ctx, attemptKey(identity, origin))
}

// CheckAccountLock reports whether a login may proceed. The ephemeral record
// is authoritative; the persisted security record is the fallback. A
// persisted lock whose window has passed is cleared in place so accounts
// unlock without manual intervention.
func (s *LockoutService) CheckAccountLock(ctx context.Context, identity, origin string) (LockResult, error) {
	now := s.now()

	att, err := s.attempts.Get(ctx, attemptKey(identity, origin))
	if err != nil {
		return LockResult{}, err
	}
	if att != nil && att.LockedUntil != nil {
		if now.Before(*att.LockedUntil) {
			until := *att.LockedUntil
			return LockResult{IsLocked: true, LockedUntil: &until, Reason: lockReasonTooManyAttempts}, nil
		}
		// Expired: the record resets on next increment; the persisted copy
		// still needs healing below.
	}

	cred, err := s.users.FindByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return LockResult{IsLocked: false}, nil
		}
		return LockResult{}, err
	}

	if cred.Security.IsLocked && cred.Security.LockedUntil != nil {
		if now.Before(*cred.Security.LockedUntil) {
			until := *cred.Security.LockedUntil
			reason := cred.Security.LockReason
			if reason == "" {
				reason = lockReasonTooManyAttempts
			}
			return LockResult{IsLocked: true, LockedUntil: &until, Reason: reason}, nil
		}
		s.healExpiredLock(ctx, cred)
	}

	return LockResult{IsLocked: false}, nil
}

// healExpiredLock clears the persisted lock fields unconditionally once the
// window has passed.
func (s *LockoutService) healExpiredLock(ctx context.Context, cred *domain.Credential) {
	cred.Security.IsLocked = false
	cred.Security.LockedUntil = nil
	cred.Security.LockReason = ""
	cred.Security.FailedLoginAttempts = 0
	if err := s.users.Save(ctx, cred); err != nil {
		log.Printf("Could not clear expired lock for %q: %v", cred.Email, err)
	}
}
