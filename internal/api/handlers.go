package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coursiva/auth-service/internal/domain"
	"github.com/coursiva/auth-service/internal/security"
	"github.com/coursiva/auth-service/internal/store"
)

// AuthHandler exposes the authentication surface: login, two-factor
// lifecycle, session refresh and the registration/password supplements.
type AuthHandler struct {
	auth      *security.Authenticator
	sessions  *security.SessionService
	twoFactor *security.TwoFactorService
}

// NewAuthHandler creates a new handler for the auth endpoints.
func NewAuthHandler(auth *security.Authenticator, sessions *security.SessionService, twoFactor *security.TwoFactorService) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions, twoFactor: twoFactor}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin verifies credentials and returns either a full session or a
// two-factor challenge.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := h.auth.Authenticate(r.Context(), req.Email, req.Password, clientOrigin(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	if result.RequiresTwoFactor {
		writeJSON(w, http.StatusOK, map[string]any{
			"requires_two_factor": true,
			"temp_token":          result.TempToken,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"credential":    result.Credential.PublicView(),
		"session_token": result.SessionToken,
	})
}

type twoFactorVerifyRequest struct {
	TempToken string `json:"temp_token"`
	Code      string `json:"code"`
}

// HandleTwoFactorVerify completes a pending two-factor login.
func (h *AuthHandler) HandleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	var req twoFactorVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.auth.CompleteTwoFactor(r.Context(), req.TempToken, req.Code, clientOrigin(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	response := map[string]any{
		"credential":    result.Credential.PublicView(),
		"session_token": result.SessionToken,
	}
	if result.BackupCodeUsed {
		response["backup_code_used"] = true
		response["remaining_backup_codes"] = result.RemainingBackupCodes
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleTwoFactorSetup generates fresh provisioning material for the
// authenticated account. Nothing is persisted until enable confirms it.
func (h *AuthHandler) HandleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	enrollment, err := h.twoFactor.GenerateSecret(cred.Email)
	if err != nil {
		log.Printf("Could not generate 2FA secret for %q: %v", cred.Email, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

type twoFactorEnableRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// HandleTwoFactorEnable confirms enrollment and returns the backup codes,
// exactly once.
func (h *AuthHandler) HandleTwoFactorEnable(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req twoFactorEnableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "secret and code are required")
		return
	}

	codes, err := h.twoFactor.Enable(r.Context(), cred.Email, req.Secret, req.Code)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

type twoFactorDisableRequest struct {
	Code string `json:"code"`
}

// HandleTwoFactorDisable turns two-factor off with a TOTP or backup code.
func (h *AuthHandler) HandleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req twoFactorDisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.twoFactor.Disable(r.Context(), cred.Email, req.Code); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disabled": true})
}

type refreshRequest struct {
	SessionToken string `json:"session_token"`
}

// HandleSessionRefresh exchanges a token with a valid signature for a fresh
// one, even when the old token's own expiry has passed.
func (h *AuthHandler) HandleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionToken == "" {
		writeError(w, http.StatusBadRequest, "session_token is required")
		return
	}

	token, err := h.sessions.RefreshSession(r.Context(), req.SessionToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_token": token})
}

type registerRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

// HandleRegister creates a credential with security defaults.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	cred, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"credential": cred.PublicView()})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// HandleChangePassword rotates the authenticated account's password.
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	if err := h.auth.ChangePassword(r.Context(), cred.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": true})
}

// HandleMe returns the authenticated account's public view.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credential": cred.PublicView()})
}

// writeAuthError maps domain errors to HTTP responses. Infrastructure
// failures stay generic: details are already logged server-side.
func writeAuthError(w http.ResponseWriter, err error) {
	var locked *domain.AccountLockedError
	var policy *domain.PasswordPolicyError

	switch {
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":        "account locked",
			"locked_until": locked.LockedUntil.Format(time.RFC3339),
			"reason":       locked.Reason,
		})
	case errors.As(err, &policy):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "password does not meet policy",
			"violations": policy.Violations,
		})
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrAccountDeactivated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrInvalidSessionToken), errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrInvalidTwoFactorCode),
		errors.Is(err, domain.ErrTwoFactorAlreadyEnabled),
		errors.Is(err, domain.ErrTwoFactorNotEnabled):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// clientOrigin extracts the network origin used as part of the lockout key:
// the first X-Forwarded-For hop when present, otherwise the remote address.
func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
