package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/services"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, username, password string, client services.ClientInfo) (*services.AuthResponse, error)
	VerifySecondFactor(ctx context.Context, challenge, code string, client services.ClientInfo) (*services.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.AuthResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, client services.ClientInfo) error
	ListSessions(ctx context.Context, userID string) ([]*models.Session, error)
	RevokeOwnSession(ctx context.Context, userID, refreshToken string) error
	EnrollTOTP(ctx context.Context, userID string) (*auth.TOTPEnrollment, error)
	ConfirmTOTP(ctx context.Context, userID, code string) error
	DisableTOTP(ctx context.Context, userID, password string) error
	GetProfile(ctx context.Context, userID string) (*services.UserResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	cookies  auth.CookieConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, cookies auth.CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		cookies:  cookies,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

// VerifySecondFactorRequest completes a login that returned mfa_required
type VerifySecondFactorRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required,len=6,numeric"`
}

// RefreshTokenRequest carries the refresh token when no cookie is sent
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RevokeSessionRequest names the session to revoke
type RevokeSessionRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// TOTPCodeRequest carries a six digit authenticator code
type TOTPCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// PasswordRequest re-confirms the caller's password
type PasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// SessionResponse describes one live session. The token itself is masked.
type SessionResponse struct {
	TokenHint  string    `json:"token_hint"`
	Device     string    `json:"device"`
	IPAddress  string    `json:"ip_address"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used"`
	Current    bool      `json:"current"`
}

func (h *AuthHandler) client(r *http.Request) services.ClientInfo {
	return services.ClientInfo{
		Address:   pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.UserAgent(r),
	}
}

// refreshTokenFrom prefers the cookie, then the JSON body.
func refreshTokenFrom(r *http.Request, body string) string {
	if token, err := auth.GetRefreshTokenCookie(r); err == nil && token != "" {
		return token
	}
	return strings.TrimSpace(body)
}

func (h *AuthHandler) writeAuthResponse(w http.ResponseWriter, resp *services.AuthResponse) {
	if resp.RefreshToken != "" {
		auth.SetRefreshTokenCookie(w, resp.RefreshToken, resp.RefreshTTL, h.cookies)
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Login handles POST /api/auth/login. Accounts with a second factor get
// 200 with mfa_required and a challenge token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), req.Username, req.Password, h.client(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.writeAuthResponse(w, resp)
}

// VerifySecondFactor handles POST /api/auth/2fa/verify
func (h *AuthHandler) VerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifySecondFactorRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.VerifySecondFactor(r.Context(), req.ChallengeToken, req.Code, h.client(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	h.writeAuthResponse(w, resp)
}

// RefreshToken handles POST /api/auth/refresh. The presented token is
// consumed and a new one is issued.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	token := refreshTokenFrom(r, req.RefreshToken)
	if token == "" {
		pkghttp.WriteUnauthorized(w, "Refresh token required")
		return
	}

	resp, err := h.service.RefreshToken(r.Context(), token, h.client(r))
	if err != nil {
		// Keep the cookie through outages; only a dead token is dropped.
		if errors.Is(err, models.ErrUnauthorized) {
			auth.ClearRefreshTokenCookie(w, h.cookies)
		}
		writeAuthError(w, err)
		return
	}

	h.writeAuthResponse(w, resp)
}

// Logout handles POST /api/auth/logout. It always succeeds for the caller.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	_ = decodeOptionalJSON(w, r, &req)

	if token := refreshTokenFrom(r, req.RefreshToken); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	n, err := h.service.LogoutAll(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

// ChangePassword handles POST /api/auth/change-password. Every session of
// the user, including the current one, is revoked.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.UserID, req.CurrentPassword, req.NewPassword, h.client(r)); err != nil {
		writeAuthError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /api/auth/sessions
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	current, _ := auth.GetRefreshTokenCookie(r)
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{
			TokenHint:  pkglogger.MaskedToken(s.RefreshToken),
			Device:     s.DeviceLabel,
			IPAddress:  s.SourceAddress,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			Current:    current != "" && current == s.RefreshToken,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// RevokeSession handles DELETE /api/auth/sessions
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req RevokeSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.RevokeOwnSession(r.Context(), claims.UserID, req.RefreshToken); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// EnrollTOTP handles POST /api/auth/2fa/enroll
func (h *AuthHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	enrollment, err := h.service.EnrollTOTP(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// ConfirmTOTP handles POST /api/auth/2fa/confirm
func (h *AuthHandler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req TOTPCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ConfirmTOTP(r.Context(), claims.UserID, req.Code); err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"totp_enabled": true})
}

// DisableTOTP handles POST /api/auth/2fa/disable
func (h *AuthHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req PasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.DisableTOTP(r.Context(), claims.UserID, req.Password); err != nil {
		writeAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"totp_enabled": false})
}

// Profile handles GET /api/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	profile, err := h.service.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}
