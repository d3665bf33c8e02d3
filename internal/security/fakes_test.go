package security

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coursiva/auth-service/internal/domain"
	"github.com/coursiva/auth-service/internal/store"
)

// fakeUserRepo is an in-memory UserRepository. Find returns copies so that
// only Save makes mutations visible, mirroring a real store.
type fakeUserRepo struct {
	mu    sync.Mutex
	seq   int
	creds map[string]*domain.Credential // keyed by id
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{creds: make(map[string]*domain.Credential)}
}

func (f *fakeUserRepo) add(cred *domain.Credential) *domain.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cred.ID == "" {
		f.seq++
		cred.ID = fmt.Sprintf("user-%d", f.seq)
	}
	copied := cloneCredential(cred)
	f.creds[cred.ID] = copied
	return cred
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, cred := range f.creds {
		if cred.Email == email {
			return cloneCredential(cred), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUserRepo) FindByID(_ context.Context, id string) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneCredential(cred), nil
}

func (f *fakeUserRepo) Create(_ context.Context, cred *domain.Credential) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(cred.Email))
	for _, existing := range f.creds {
		if existing.Email == email {
			return "", store.ErrDuplicateEmail
		}
	}
	f.seq++
	id := fmt.Sprintf("user-%d", f.seq)
	copied := cloneCredential(cred)
	copied.ID = id
	copied.Email = email
	f.creds[id] = copied
	return id, nil
}

func (f *fakeUserRepo) Save(_ context.Context, cred *domain.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.creds[cred.ID]; !ok {
		return domain.ErrNotFound
	}
	f.creds[cred.ID] = cloneCredential(cred)
	return nil
}

// stored returns the persisted state of a credential by email.
func (f *fakeUserRepo) stored(email string) *domain.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cred := range f.creds {
		if cred.Email == email {
			return cloneCredential(cred)
		}
	}
	return nil
}

func cloneCredential(cred *domain.Credential) *domain.Credential {
	copied := *cred
	if cred.Security.LockedUntil != nil {
		until := *cred.Security.LockedUntil
		copied.Security.LockedUntil = &until
	}
	if cred.Security.TwoFactorSecret != nil {
		secret := *cred.Security.TwoFactorSecret
		copied.Security.TwoFactorSecret = &secret
	}
	copied.Security.BackupCodes = append([]string(nil), cred.Security.BackupCodes...)
	if cred.LastLogin != nil {
		last := *cred.LastLogin
		copied.LastLogin = &last
	}
	return &copied
}

// fakePolicyProvider serves a fixed policy, optionally failing to simulate a
// settings outage.
type fakePolicyProvider struct {
	policy domain.SecurityPolicy
	err    error
}

func (f *fakePolicyProvider) GetPolicy(context.Context) (domain.SecurityPolicy, error) {
	if f.err != nil {
		return domain.DefaultSecurityPolicy(), f.err
	}
	return f.policy, nil
}

// fakeNotifier records dispatched event types.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Dispatch(eventType string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func (f *fakeNotifier) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func testPolicy() domain.SecurityPolicy {
	return domain.SecurityPolicy{
		PasswordMinLength:          8,
		RequireUppercase:           true,
		RequireNumbers:             true,
		RequireSymbols:             true,
		LoginAttempts:              5,
		AccountLockDurationMinutes: 30,
		SessionTimeoutMinutes:      60,
	}
}
