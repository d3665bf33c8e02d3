package store

import (
	"context"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursiva/auth-service/internal/domain"
)

// PolicyProvider supplies the current security policy. Implementations must
// not cache across calls: policy edits made in the admin dashboard take
// effect on the very next read.
type PolicyProvider interface {
	GetPolicy(ctx context.Context) (domain.SecurityPolicy, error)
}

// PostgresPolicyRepository reads the single-row security_settings table owned
// by the settings service.
type PostgresPolicyRepository struct {
	db *pgxpool.Pool
}

// NewPostgresPolicyRepository creates a new instance of PostgresPolicyRepository.
func NewPostgresPolicyRepository(db *pgxpool.Pool) *PostgresPolicyRepository {
	return &PostgresPolicyRepository{db: db}
}

// GetPolicy fetches the current policy. A missing row falls back to the
// conservative defaults without error; a store outage returns the defaults
// alongside the error so callers can degrade instead of blocking logins.
func (r *PostgresPolicyRepository) GetPolicy(ctx context.Context) (domain.SecurityPolicy, error) {
	query := `
        SELECT password_min_length, require_uppercase, require_numbers, require_symbols,
               login_attempts, account_lock_duration_minutes, session_timeout_minutes
        FROM security_settings
        LIMIT 1
    `
	var p domain.SecurityPolicy
	err := r.db.QueryRow(ctx, query).Scan(
		&p.PasswordMinLength,
		&p.RequireUppercase,
		&p.RequireNumbers,
		&p.RequireSymbols,
		&p.LoginAttempts,
		&p.AccountLockDurationMinutes,
		&p.SessionTimeoutMinutes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultSecurityPolicy(), nil
		}
		log.Printf("Error reading security settings, falling back to defaults: %v", err)
		return domain.DefaultSecurityPolicy(), err
	}
	return p, nil
}
