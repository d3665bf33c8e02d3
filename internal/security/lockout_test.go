package security

import (
	"context"
	"testing"
	"time"

	"github.com/coursiva/auth-service/internal/domain"
)

func newLockoutFixture(t *testing.T) (*LockoutService, *fakeUserRepo, *fakeNotifier, *InMemoryAttemptStore) {
	t.Helper()
	repo := newFakeUserRepo()
	notifier := &fakeNotifier{}
	attempts := NewInMemoryAttemptStore()
	svc := NewLockoutService(attempts, repo, &fakePolicyProvider{policy: testPolicy()}, notifier)
	return svc, repo, notifier, attempts
}

func TestTrackFailedLogin_LocksExactlyAtThreshold(t *testing.T) {
	svc, repo, notifier, _ := newLockoutFixture(t)
	ctx := context.Background()
	repo.add(&domain.Credential{Email: "a@x.com", PasswordHash: "h", Role: domain.RoleStudent, IsActive: true})

	for i := 1; i <= 4; i++ {
		result, err := svc.TrackFailedLogin(ctx, "a@x.com", "203.0.113.7")
		if err != nil {
			t.Fatalf("TrackFailedLogin() error = %v", err)
		}
		if result.IsLocked {
			t.Fatalf("attempt %d: locked before threshold", i)
		}
		if want := 5 - i; result.AttemptsRemaining != want {
			t.Fatalf("attempt %d: AttemptsRemaining = %d, want %d", i, result.AttemptsRemaining, want)
		}
	}

	result, err := svc.TrackFailedLogin(ctx, "a@x.com", "203.0.113.7")
	if err != nil {
		t.Fatalf("TrackFailedLogin() error = %v", err)
	}
	if !result.IsLocked || result.AttemptsRemaining != 0 {
		t.Fatalf("threshold attempt: IsLocked = %v, AttemptsRemaining = %d", result.IsLocked, result.AttemptsRemaining)
	}
	if result.LockedUntil == nil || !result.LockedUntil.After(time.Now()) {
		t.Fatalf("expected a future LockedUntil, got %v", result.LockedUntil)
	}

	stored := repo.stored("a@x.com")
	if !stored.Security.IsLocked || stored.Security.LockedUntil == nil {
		t.Fatalf("lock was not persisted on the credential: %+v", stored.Security)
	}
	if stored.Security.LockReason != "Too many failed login attempts" {
		t.Fatalf("LockReason = %q", stored.Security.LockReason)
	}

	if got := notifier.count("account.locked"); got != 1 {
		t.Fatalf("account.locked dispatched %d times, want 1", got)
	}
}

func TestTrackFailedLogin_UnknownIdentityStillLocks(t *testing.T) {
	svc, _, _, _ := newLockoutFixture(t)
	ctx := context.Background()

	var result LockResult
	var err error
	for i := 0; i < 5; i++ {
		result, err = svc.TrackFailedLogin(ctx, "ghost@x.com", "203.0.113.7")
		if err != nil {
			t.Fatalf("TrackFailedLogin() error = %v", err)
		}
	}
	if !result.IsLocked {
		t.Fatal("unknown identity should still lock the tracker record")
	}

	check, err := svc.CheckAccountLock(ctx, "ghost@x.com", "203.0.113.7")
	if err != nil {
		t.Fatalf("CheckAccountLock() error = %v", err)
	}
	if !check.IsLocked {
		t.Fatal("CheckAccountLock should see the tracker-only lock")
	}
}

func TestTrackFailedLogin_OriginsCountIndependently(t *testing.T) {
	svc, _, _, _ := newLockoutFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.TrackFailedLogin(ctx, "a@x.com", "origin-1"); err != nil {
			t.Fatalf("TrackFailedLogin() error = %v", err)
		}
	}
	result, err := svc.TrackFailedLogin(ctx, "a@x.com", "origin-2")
	if err != nil {
		t.Fatalf("TrackFailedLogin() error = %v", err)
	}
	if result.IsLocked || result.AttemptsRemaining != 4 {
		t.Fatalf("second origin should start its own count, got %+v", result)
	}
}

func TestClearFailedAttempts_ResetsTheCounter(t *testing.T) {
	svc, _, _, _ := newLockoutFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.TrackFailedLogin(ctx, "a@x.com", "203.0.113.7"); err != nil {
			t.Fatalf("TrackFailedLogin() error = %v", err)
		}
	}
	if err := svc.ClearFailedAttempts(ctx, "a@x.com", "203.0.113.7"); err != nil {
		t.Fatalf("ClearFailedAttempts() error = %v", err)
	}

	result, err := svc.TrackFailedLogin(ctx, "a@x.com", "203.0.113.7")
	if err != nil {
		t.Fatalf("TrackFailedLogin() error = %v", err)
	}
	if result.AttemptsRemaining != 4 {
		t.Fatalf("counter did not reset: AttemptsRemaining = %d, want 4", result.AttemptsRemaining)
	}
}

func TestCheckAccountLock_UnlocksAfterWindowPasses(t *testing.T) {
	svc, repo, _, attempts := newLockoutFixture(t)
	ctx := context.Background()
	repo.add(&domain.Credential{Email: "a@x.com", PasswordHash: "h", Role: domain.RoleStudent, IsActive: true})

	for i := 0; i < 5; i++ {
		if _, err := svc.TrackFailedLogin(ctx, "a@x.com", "203.0.113.7"); err != nil {
			t.Fatalf("TrackFailedLogin() error = %v", err)
		}
	}

	check, err := svc.CheckAccountLock(ctx, "a@x.com", "203.0.113.7")
	if err != nil {
		t.Fatalf("CheckAccountLock() error = %v", err)
	}
	if !check.IsLocked {
		t.Fatal("expected locked inside the window")
	}

	// Jump past the lock window on both clocks.
	future := time.Now().Add(31 * time.Minute)
	svc.now = func() time.Time { return future }
	attempts.now = func() time.Time { return future }

	check, err = svc.CheckAccountLock(ctx, "a@x.com", "203.0.113.7")
	if err != nil {
		t.Fatalf("CheckAccountLock() error = %v", err)
	}
	if check.IsLocked {
		t.Fatal("expected unlocked once the window passed")
	}

	stored := repo.stored("a@x.com")
	if stored.Security.IsLocked || stored.Security.LockedUntil != nil || stored.Security.LockReason != "" {
		t.Fatalf("persisted lock fields were not self-healed: %+v", stored.Security)
	}
	if stored.Security.FailedLoginAttempts != 0 {
		t.Fatalf("FailedLoginAttempts = %d after heal, want 0", stored.Security.FailedLoginAttempts)
	}

	// The very next failure starts a fresh count.
	result, err := svc.TrackFailedLogin(ctx, "a@x.com", "203.0.113.7")
	if err != nil {
		t.Fatalf("TrackFailedLogin() error = %v", err)
	}
	if result.IsLocked || result.AttemptsRemaining != 4 {
		t.Fatalf("expected a fresh count after expiry, got %+v", result)
	}
}

func TestCheckAccountLock_FallsBackToPersistedRecord(t *testing.T) {
	svc, repo, _, _ := newLockoutFixture(t)
	ctx := context.Background()

	until := time.Now().Add(10 * time.Minute)
	repo.add(&domain.Credential{
		Email:    "b@x.com",
		IsActive: true,
		Security: domain.SecurityRecord{
			IsLocked:    true,
			LockedUntil: &until,
			LockReason:  "Blocked by administrator",
		},
	})

	// No ephemeral record exists (e.g. the process restarted).
	check, err := svc.CheckAccountLock(ctx, "b@x.com", "203.0.113.7")
	if err != nil {
		t.Fatalf("CheckAccountLock() error = %v", err)
	}
	if !check.IsLocked {
		t.Fatal("expected persisted lock to be honored")
	}
	if check.Reason != "Blocked by administrator" {
		t.Fatalf("Reason = %q", check.Reason)
	}
}

func TestCheckAccountLock_UnknownIdentityIsUnlocked(t *testing.T) {
	svc, _, _, _ := newLockoutFixture(t)

	check, err := svc.CheckAccountLock(context.Background(), "nobody@x.com", "203.0.113.7")
	if err != nil {
		t.Fatalf("CheckAccountLock() error = %v", err)
	}
	if check.IsLocked {
		t.Fatal("unknown identity with no attempts should be unlocked")
	}
}
