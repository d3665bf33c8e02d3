package store

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursiva/auth-service/internal/domain"
)

// UserRepository defines the interface for credential storage.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.Credential, error)
	FindByID(ctx context.Context, id string) (*domain.Credential, error)
	Create(ctx context.Context, cred *domain.Credential) (string, error)
	Save(ctx context.Context, cred *domain.Credential) error
}

// ErrDuplicateEmail is returned by Create when the email is already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// PostgresUserRepository is the PostgreSQL implementation of UserRepository.
type PostgresUserRepository struct {
	db *pgxpool.Pool
}

// NewPostgresUserRepository creates a new instance of PostgresUserRepository.
func NewPostgresUserRepository(db *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

const credentialColumns = `
    id, email, password_hash, role, is_active, created_at, last_login,
    is_locked, locked_until, lock_reason, failed_login_attempts,
    two_factor_enabled, two_factor_secret, backup_codes, last_password_change
`

// FindByEmail looks up a credential by its normalized email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM users WHERE email = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

// FindByID looks up a credential by its internal UUID.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// Create inserts a new credential and returns its internal UUID.
func (r *PostgresUserRepository) Create(ctx context.Context, cred *domain.Credential) (string, error) {
	query := `
        INSERT INTO users (email, password_hash, role, is_active, last_password_change)
        VALUES ($1, $2, $3, $4, NOW())
        RETURNING id
    `
	var id string
	err := r.db.QueryRow(ctx, query,
		strings.ToLower(strings.TrimSpace(cred.Email)),
		cred.PasswordHash,
		cred.Role,
		cred.IsActive,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", ErrDuplicateEmail
		}
		log.Printf("Error inserting credential: %v", err)
		return "", err
	}
	return id, nil
}

// Save persists the mutable fields of an existing credential, including its
// embedded security record. Writes are last-writer-wins; in the expected
// deployment only one coordinator path writes lock fields per identity at a
// time.
func (r *PostgresUserRepository) Save(ctx context.Context, cred *domain.Credential) error {
	query := `
        UPDATE users SET
            password_hash = $2,
            role = $3,
            is_active = $4,
            last_login = $5,
            is_locked = $6,
            locked_until = $7,
            lock_reason = $8,
            failed_login_attempts = $9,
            two_factor_enabled = $10,
            two_factor_secret = $11,
            backup_codes = $12,
            last_password_change = $13
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query,
		cred.ID,
		cred.PasswordHash,
		cred.Role,
		cred.IsActive,
		cred.LastLogin,
		cred.Security.IsLocked,
		cred.Security.LockedUntil,
		cred.Security.LockReason,
		cred.Security.FailedLoginAttempts,
		cred.Security.TwoFactorEnabled,
		cred.Security.TwoFactorSecret,
		cred.Security.BackupCodes,
		cred.Security.LastPasswordChange,
	)
	if err != nil {
		log.Printf("Error saving credential %s: %v", cred.ID, err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepository) scanOne(row pgx.Row) (*domain.Credential, error) {
	var cred domain.Credential
	err := row.Scan(
		&cred.ID,
		&cred.Email,
		&cred.PasswordHash,
		&cred.Role,
		&cred.IsActive,
		&cred.CreatedAt,
		&cred.LastLogin,
		&cred.Security.IsLocked,
		&cred.Security.LockedUntil,
		&cred.Security.LockReason,
		&cred.Security.FailedLoginAttempts,
		&cred.Security.TwoFactorEnabled,
		&cred.Security.TwoFactorSecret,
		&cred.Security.BackupCodes,
		&cred.Security.LastPasswordChange,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		log.Printf("Error scanning credential row: %v", err)
		return nil, err
	}
	return &cred, nil
}
