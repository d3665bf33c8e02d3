package security

import (
	"context"
	"errors"
	"testing"

	"github.com/coursiva/auth-service/internal/domain"
)

func TestPasswordEnforcer_Validate(t *testing.T) {
	enforcer := NewPasswordEnforcer(&fakePolicyProvider{policy: testPolicy()})

	tests := []struct {
		name           string
		candidate      string
		wantViolations int
	}{
		{name: "meets every rule", candidate: "Password1!", wantViolations: 0},
		{name: "misses upper digit and symbol", candidate: "password", wantViolations: 3},
		{name: "too short only", candidate: "Pw1!", wantViolations: 1},
		{name: "misses everything", candidate: "pass", wantViolations: 4},
		{name: "symbol satisfied by punctuation", candidate: "Abcdefg1.", wantViolations: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := enforcer.Validate(context.Background(), tt.candidate)
			if tt.wantViolations == 0 {
				if err != nil {
					t.Fatalf("Validate(%q) error = %v, want nil", tt.candidate, err)
				}
				return
			}
			var policyErr *domain.PasswordPolicyError
			if !errors.As(err, &policyErr) {
				t.Fatalf("Validate(%q) error = %v, want PasswordPolicyError", tt.candidate, err)
			}
			if len(policyErr.Violations) != tt.wantViolations {
				t.Fatalf("Validate(%q) violations = %v, want %d", tt.candidate, policyErr.Violations, tt.wantViolations)
			}
		})
	}
}

func TestPasswordEnforcer_FallsBackWhenPolicyUnavailable(t *testing.T) {
	enforcer := NewPasswordEnforcer(&fakePolicyProvider{err: errors.New("settings store down")})

	// Only the minimum length survives the outage; complexity rules are
	// suspended rather than blocking the operation.
	if err := enforcer.Validate(context.Background(), "password"); err != nil {
		t.Fatalf("Validate() error = %v, want nil under degraded policy", err)
	}

	var policyErr *domain.PasswordPolicyError
	if err := enforcer.Validate(context.Background(), "short"); !errors.As(err, &policyErr) {
		t.Fatalf("Validate() error = %v, want PasswordPolicyError", err)
	} else if len(policyErr.Violations) != 1 {
		t.Fatalf("violations = %v, want just the length rule", policyErr.Violations)
	}
}
