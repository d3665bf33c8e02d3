package security

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coursiva/auth-service/internal/domain"
	"github.com/coursiva/auth-service/internal/store"
)

const (
	// scopeTwoFactorPending marks the short-lived token handed out between a
	// successful password check and the TOTP step. It is signed with its own
	// key so it can never be replayed as a full session.
	scopeTwoFactorPending = "2fa_pending"

	twoFactorTokenValidity = 5 * time.Minute

	// refreshSuggestedWindow is how close to expiry a session may get before
	// validation starts signalling that the client should refresh.
	refreshSuggestedWindow = 10 * time.Minute
)

// SessionClaims are the claims embedded in every token this service mints.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
	Scope string      `json:"scope,omitempty"`
}

// ValidatedSession is the outcome of a successful token validation.
type ValidatedSession struct {
	UserID           string
	Email            string
	Role             domain.Role
	IssuedAt         time.Time
	RefreshSuggested bool
}

// SessionService mints and validates stateless session tokens. Expiry is
// derived from the live policy at issuance time, and re-checked against the
// live policy at validation time, so tightening the session timeout cuts off
// sessions that were minted under a looser one.
type SessionService struct {
	sessionKey   []byte
	twoFactorKey []byte
	policy       store.PolicyProvider

	now func() time.Time
}

func NewSessionService(sessionKey, twoFactorKey []byte, policy store.PolicyProvider) *SessionService {
	return &SessionService{
		sessionKey:   sessionKey,
		twoFactorKey: twoFactorKey,
		policy:       policy,
		now:          time.Now,
	}
}

func (s *SessionService) currentTimeout(ctx context.Context) time.Duration {
	pol, err := s.policy.GetPolicy(ctx)
	if err != nil {
		pol = domain.DefaultSecurityPolicy()
	}
	return time.Duration(pol.SessionTimeoutMinutes) * time.Minute
}

// IssueSession mints a full session token for an authenticated credential.
func (s *SessionService) IssueSession(ctx context.Context, cred *domain.Credential) (string, error) {
	now := s.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.currentTimeout(ctx))),
		},
		Email: cred.Email,
		Role:  cred.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.sessionKey)
}

// IssueTwoFactorToken mints the narrow 2FA-pending token returned when a
// password check succeeds on a two-factor account.
func (s *SessionService) IssueTwoFactorToken(cred *domain.Credential) (string, error) {
	now := s.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(twoFactorTokenValidity)),
		},
		Email: cred.Email,
		Role:  cred.Role,
		Scope: scopeTwoFactorPending,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.twoFactorKey)
}

// ValidateSession verifies the token signature and expiry, then re-checks the
// session age against the live policy. A policy tightened after issuance
// expires otherwise-valid tokens.
func (s *SessionService) ValidateSession(ctx context.Context, token string) (*ValidatedSession, error) {
	claims, err := s.parse(token, s.sessionKey, true)
	if err != nil {
		return nil, err
	}
	if claims.Scope != "" {
		return nil, domain.ErrInvalidSessionToken
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, domain.ErrInvalidSessionToken
	}

	now := s.now()
	timeout := s.currentTimeout(ctx)
	age := now.Sub(claims.IssuedAt.Time)
	if age > timeout {
		return nil, domain.ErrSessionExpired
	}

	// Remaining lifetime honors whichever bound is tighter: the token's own
	// expiry or the live policy window.
	expiry := claims.ExpiresAt.Time
	if policyExpiry := claims.IssuedAt.Time.Add(timeout); policyExpiry.Before(expiry) {
		expiry = policyExpiry
	}

	return &ValidatedSession{
		UserID:           claims.Subject,
		Email:            claims.Email,
		Role:             claims.Role,
		IssuedAt:         claims.IssuedAt.Time,
		RefreshSuggested: expiry.Sub(now) < refreshSuggestedWindow,
	}, nil
}

// ValidateTwoFactorToken verifies a 2FA-pending token.
func (s *SessionService) ValidateTwoFactorToken(token string) (*ValidatedSession, error) {
	claims, err := s.parse(token, s.twoFactorKey, true)
	if err != nil {
		return nil, err
	}
	if claims.Scope != scopeTwoFactorPending || claims.IssuedAt == nil {
		return nil, domain.ErrInvalidSessionToken
	}
	return &ValidatedSession{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Role:     claims.Role,
		IssuedAt: claims.IssuedAt.Time,
	}, nil
}

// RefreshSession exchanges a structurally valid session token for a fresh
// one. Only the signature matters here: an expired token with a good
// signature still refreshes, picking up a new issued-at and the current
// policy timeout.
func (s *SessionService) RefreshSession(ctx context.Context, oldToken string) (string, error) {
	claims, err := s.parse(oldToken, s.sessionKey, false)
	if err != nil {
		return "", domain.ErrInvalidSessionToken
	}
	if claims.Scope != "" || claims.Subject == "" {
		return "", domain.ErrInvalidSessionToken
	}

	refreshed := &domain.Credential{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.Role,
	}
	return s.IssueSession(ctx, refreshed)
}

func (s *SessionService) parse(token string, key []byte, validateClaims bool) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &SessionClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrSessionExpired
		}
		return nil, domain.ErrInvalidSessionToken
	}
	if !parsed.Valid {
		return nil, domain.ErrInvalidSessionToken
	}
	return claims, nil
}
