package security

import (
	"context"
	"fmt"
	"log"
	"unicode"

	"github.com/coursiva/auth-service/internal/domain"
	"github.com/coursiva/auth-service/internal/store"
)

// PasswordEnforcer validates candidate passwords against the live policy.
type PasswordEnforcer struct {
	policy store.PolicyProvider
}

func NewPasswordEnforcer(policy store.PolicyProvider) *PasswordEnforcer {
	return &PasswordEnforcer{policy: policy}
}

// Validate checks a candidate against every policy rule and returns the full
// list of violations. When the policy provider is unreachable the check
// degrades to minimum length only: availability over strictness, so a
// settings outage never blocks registrations or password changes.
func (e *PasswordEnforcer) Validate(ctx context.Context, candidate string) error {
	pol, err := e.policy.GetPolicy(ctx)
	if err != nil {
		log.Printf("Security policy unavailable, applying minimum-length check only: %v", err)
		pol = domain.SecurityPolicy{PasswordMinLength: domain.DefaultSecurityPolicy().PasswordMinLength}
	}

	var violations []string
	if len(candidate) < pol.PasswordMinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters long", pol.PasswordMinLength))
	}
	if pol.RequireUppercase && !containsClass(candidate, unicode.IsUpper) {
		violations = append(violations, "must contain an uppercase letter")
	}
	if pol.RequireNumbers && !containsClass(candidate, unicode.IsDigit) {
		violations = append(violations, "must contain a number")
	}
	if pol.RequireSymbols && !containsSymbol(candidate) {
		violations = append(violations, "must contain a symbol")
	}

	if len(violations) > 0 {
		return &domain.PasswordPolicyError{Violations: violations}
	}
	return nil
}

func containsClass(s string, class func(rune) bool) bool {
	for _, r := range s {
		if class(r) {
			return true
		}
	}
	return false
}

func containsSymbol(s string) bool {
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return true
		}
	}
	return false
}
