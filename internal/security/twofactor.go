package security

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"image/png"
	"log"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/coursiva/auth-service/internal/domain"
	"github.com/coursiva/auth-service/internal/store"
)

const (
	totpPeriod = 30
	// totpSkew tolerates clock drift between the authenticator device and the
	// server: the current step plus two neighbors either side.
	totpSkew = 2

	backupCodeCount  = 8
	backupCodeLength = 10
)

// backupCodeAlphabet avoids the ambiguous characters 0/O and 1/I.
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Enrollment is the provisioning material for a pending two-factor setup.
// Nothing is persisted until the user confirms with a valid code.
type Enrollment struct {
	Secret          string `json:"secret"`
	QRImage         string `json:"qr_image"`
	ManualEntryKey  string `json:"manual_entry_key"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// LoginVerification reports how a mid-login second factor was satisfied.
type LoginVerification struct {
	BackupCodeUsed       bool
	RemainingBackupCodes int
}

// TwoFactorService manages TOTP enrollment, verification and single-use
// backup-code recovery.
type TwoFactorService struct {
	users    store.UserRepository
	notifier Notifier
	issuer   string

	now func() time.Time
}

func NewTwoFactorService(users store.UserRepository, notifier Notifier, issuer string) *TwoFactorService {
	return &TwoFactorService{
		users:    users,
		notifier: notifier,
		issuer:   issuer,
		now:      time.Now,
	}
}

// GenerateSecret produces a fresh shared secret, a scannable provisioning QR
// image (base64 PNG) and the same secret as a manual entry key. Enrollment
// stays pending until Enable confirms it.
func (s *TwoFactorService) GenerateSecret(email string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: email,
		Period:      totpPeriod,
	})
	if err != nil {
		return nil, err
	}

	img, err := key.Image(200, 200)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:          key.Secret(),
		QRImage:         "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		ManualEntryKey:  key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// Enable confirms a pending enrollment. The code is verified against the
// candidate secret, not a stored one; only then are the secret, the enabled
// flag and a fresh set of backup codes persisted. The codes are returned
// exactly once and cannot be retrieved again.
func (s *TwoFactorService) Enable(ctx context.Context, email, secret, code string) ([]string, error) {
	cred, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrStoreUnavailable
	}
	if cred.Security.TwoFactorEnabled {
		return nil, domain.ErrTwoFactorAlreadyEnabled
	}

	if !s.verifyAt(code, secret, s.now()) {
		return nil, domain.ErrInvalidTwoFactorCode
	}

	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	cred.Security.TwoFactorEnabled = true
	cred.Security.TwoFactorSecret = &secret
	cred.Security.BackupCodes = codes
	if err := s.users.Save(ctx, cred); err != nil {
		return nil, domain.ErrStoreUnavailable
	}

	s.notifier.Dispatch("security.2fa_enabled", domain.TwoFactorStatusChangedEvent{Email: cred.Email, Enabled: true})
	return codes, nil
}

// Disable turns two-factor off. It accepts a current TOTP code or an unused
// backup code; a backup code is consumed even though everything is about to
// be cleared. Secret, flag and remaining codes go atomically in one save.
func (s *TwoFactorService) Disable(ctx context.Context, email, code string) error {
	cred, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return domain.ErrStoreUnavailable
	}
	if !cred.Security.TwoFactorEnabled || cred.Security.TwoFactorSecret == nil {
		return domain.ErrTwoFactorNotEnabled
	}

	if !s.verifyAt(code, *cred.Security.TwoFactorSecret, s.now()) {
		if _, consumed := consumeBackupCode(cred, code); !consumed {
			return domain.ErrInvalidTwoFactorCode
		}
	}

	cred.Security.TwoFactorEnabled = false
	cred.Security.TwoFactorSecret = nil
	cred.Security.BackupCodes = nil
	if err := s.users.Save(ctx, cred); err != nil {
		return domain.ErrStoreUnavailable
	}

	s.notifier.Dispatch("security.2fa_disabled", domain.TwoFactorStatusChangedEvent{Email: cred.Email, Enabled: false})
	return nil
}

// VerifyLogin checks the second factor mid-login. TOTP is tried first; on
// failure each stored backup code is tried for an exact match. A matched
// backup code is removed immediately and the remaining count is reported so
// the client can warn the user to regenerate.
func (s *TwoFactorService) VerifyLogin(ctx context.Context, cred *domain.Credential, code string) (*LoginVerification, error) {
	if !cred.Security.TwoFactorEnabled || cred.Security.TwoFactorSecret == nil {
		return nil, domain.ErrTwoFactorNotEnabled
	}

	if s.verifyAt(code, *cred.Security.TwoFactorSecret, s.now()) {
		return &LoginVerification{}, nil
	}

	remaining, consumed := consumeBackupCode(cred, code)
	if !consumed {
		return nil, domain.ErrInvalidTwoFactorCode
	}
	if err := s.users.Save(ctx, cred); err != nil {
		// The code was matched but not burned; fail closed rather than
		// letting it be replayed later.
		log.Printf("Could not consume backup code for %q: %v", cred.Email, err)
		return nil, domain.ErrStoreUnavailable
	}

	return &LoginVerification{BackupCodeUsed: true, RemainingBackupCodes: remaining}, nil
}

// VerifyCode is the pure TOTP check with no account side effects, used both
// by login verification and standalone step-up checks.
func (s *TwoFactorService) VerifyCode(code, secret string) bool {
	return s.verifyAt(code, secret, s.now())
}

func (s *TwoFactorService) verifyAt(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// consumeBackupCode removes code from the credential's backup codes when it
// matches one exactly, returning how many remain.
func consumeBackupCode(cred *domain.Credential, code string) (remaining int, consumed bool) {
	for i, stored := range cred.Security.BackupCodes {
		if stored == code {
			cred.Security.BackupCodes = append(
				cred.Security.BackupCodes[:i],
				cred.Security.BackupCodes[i+1:]...,
			)
			return len(cred.Security.BackupCodes), true
		}
	}
	return len(cred.Security.BackupCodes), false
}

// generateBackupCodes produces n unique single-use recovery codes.
func generateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for len(codes) < n {
		code, err := randomCode(backupCodeLength)
		if err != nil {
			return nil, err
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes, nil
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = backupCodeAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
