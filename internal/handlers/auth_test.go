package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/BradenHooton/tradergate/internal/services"
	pkghttp "github.com/BradenHooton/tradergate/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthHandler(svc *MockAuthService) *AuthHandler {
	return NewAuthHandler(svc, nil, auth.CookieConfig{SameSite: "strict"})
}

func sessionResponse() *services.AuthResponse {
	return &services.AuthResponse{
		AccessToken:  "access-jwt",
		TokenType:    "Bearer",
		ExpiresIn:    900,
		RefreshToken: "refresh-opaque",
		RefreshTTL:   time.Hour,
		User:         &services.UserResponse{ID: "user-1", Username: "alice", Role: models.RoleTrader},
	}
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.RefreshCookieName {
			return c
		}
	}
	return nil
}

func TestLogin_Success(t *testing.T) {
	var gotClient services.ClientInfo
	svc := &MockAuthService{
		LoginFunc: func(ctx context.Context, username, password string, client services.ClientInfo) (*services.AuthResponse, error) {
			assert.Equal(t, "alice", username)
			assert.Equal(t, "correct horse", password)
			gotClient = client
			return sessionResponse(), nil
		},
	}
	h := newTestAuthHandler(svc)

	req := NewTestRequest(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "alice", Password: "correct horse"})
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone) Mobile")
	w := httptest.NewRecorder()
	h.Login(w, req)

	var resp services.AuthResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access-jwt", resp.AccessToken)
	assert.Equal(t, "refresh-opaque", resp.RefreshToken)
	assert.Equal(t, "203.0.113.7", gotClient.Address)
	assert.Contains(t, gotClient.UserAgent, "Mobile")

	cookie := refreshCookie(t, w)
	require.NotNil(t, cookie)
	assert.Equal(t, "refresh-opaque", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 3600, cookie.MaxAge)
}

func TestLogin_SecondFactorChallenge(t *testing.T) {
	svc := &MockAuthService{
		LoginFunc: func(ctx context.Context, username, password string, client services.ClientInfo) (*services.AuthResponse, error) {
			return &services.AuthResponse{MFARequired: true, ChallengeToken: "challenge"}, nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Login(w, NewTestRequest(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "alice", Password: "pw"}))

	var resp services.AuthResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.MFARequired)
	assert.Equal(t, "challenge", resp.ChallengeToken)
	assert.Empty(t, resp.AccessToken)
	assert.Nil(t, refreshCookie(t, w))
}

func TestLogin_Errors(t *testing.T) {
	until := time.Now().Add(10 * time.Minute)

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantDetails string
	}{
		{"invalid credentials", &models.InvalidCredentialsError{RemainingAttempts: 3}, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized, "remaining_attempts=3"},
		{"locked", &models.LockedError{LockedUntil: &until}, http.StatusLocked, pkghttp.ErrCodeAccountLocked, "locked_until=" + until.UTC().Format(time.RFC3339)},
		{"disabled", models.ErrAccountDisabled, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized, ""},
		{"store down", models.ErrBackendUnavailable, http.StatusServiceUnavailable, pkghttp.ErrCodeServiceUnavailable, ""},
		{"internal", models.ErrInternalServer, http.StatusInternalServerError, pkghttp.ErrCodeInternal, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockAuthService{
				LoginFunc: func(ctx context.Context, username, password string, client services.ClientInfo) (*services.AuthResponse, error) {
					return nil, tt.err
				},
			}
			h := newTestAuthHandler(svc)

			w := httptest.NewRecorder()
			h.Login(w, NewTestRequest(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "alice", Password: "pw"}))

			resp := AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
			assert.Equal(t, tt.wantDetails, resp.Details)
		})
	}
}

func TestLogin_LockedSetsRetryAfter(t *testing.T) {
	until := time.Now().Add(5 * time.Minute)
	svc := &MockAuthService{
		LoginFunc: func(ctx context.Context, username, password string, client services.ClientInfo) (*services.AuthResponse, error) {
			return nil, &models.LockedError{LockedUntil: &until}
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Login(w, NewTestRequest(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "alice", Password: "pw"}))

	assert.Equal(t, http.StatusLocked, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestLogin_Validation(t *testing.T) {
	h := newTestAuthHandler(&MockAuthService{})

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed", `{"username":`, pkghttp.ErrCodeBadRequest},
		{"missing password", `{"username":"alice"}`, pkghttp.ErrCodeValidation},
		{"empty body", ``, pkghttp.ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.Login(w, req)
			AssertErrorResponse(t, w, http.StatusBadRequest, tt.wantCode)
		})
	}
}

func TestVerifySecondFactor(t *testing.T) {
	svc := &MockAuthService{
		VerifySecondFactorFunc: func(ctx context.Context, challenge, code string, client services.ClientInfo) (*services.AuthResponse, error) {
			if code != "123456" {
				return nil, models.ErrInvalidSecondFactor
			}
			return sessionResponse(), nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.VerifySecondFactor(w, NewTestRequest(t, http.MethodPost, "/api/auth/2fa/verify",
		VerifySecondFactorRequest{ChallengeToken: "challenge", Code: "123456"}))
	AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.NotNil(t, refreshCookie(t, w))

	w = httptest.NewRecorder()
	h.VerifySecondFactor(w, NewTestRequest(t, http.MethodPost, "/api/auth/2fa/verify",
		VerifySecondFactorRequest{ChallengeToken: "challenge", Code: "654321"}))
	AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized)

	w = httptest.NewRecorder()
	h.VerifySecondFactor(w, NewTestRequest(t, http.MethodPost, "/api/auth/2fa/verify",
		VerifySecondFactorRequest{ChallengeToken: "challenge", Code: "12ab56"}))
	AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.ErrCodeValidation)
}

func TestRefreshToken_PrefersCookie(t *testing.T) {
	var presented string
	svc := &MockAuthService{
		RefreshTokenFunc: func(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.AuthResponse, error) {
			presented = refreshToken
			return sessionResponse(), nil
		},
	}
	h := newTestAuthHandler(svc)

	req := NewTestRequest(t, http.MethodPost, "/api/auth/refresh", RefreshTokenRequest{RefreshToken: "from-body"})
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "from-cookie"})
	w := httptest.NewRecorder()
	h.RefreshToken(w, req)

	AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.Equal(t, "from-cookie", presented)

	req = NewTestRequest(t, http.MethodPost, "/api/auth/refresh", RefreshTokenRequest{RefreshToken: "from-body"})
	w = httptest.NewRecorder()
	h.RefreshToken(w, req)
	assert.Equal(t, "from-body", presented)
}

func TestRefreshToken_Failures(t *testing.T) {
	svc := &MockAuthService{
		RefreshTokenFunc: func(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.AuthResponse, error) {
			return nil, models.ErrUnauthorized
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.RefreshToken(w, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil))
	AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "reused"})
	w = httptest.NewRecorder()
	h.RefreshToken(w, req)

	AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized)
	cookie := refreshCookie(t, w)
	require.NotNil(t, cookie)
	assert.Equal(t, -1, cookie.MaxAge)
}

func TestRefreshToken_OutageKeepsCookie(t *testing.T) {
	svc := &MockAuthService{
		RefreshTokenFunc: func(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.AuthResponse, error) {
			return nil, fmt.Errorf("rotate session: %w", models.ErrBackendUnavailable)
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "still-good"})
	w := httptest.NewRecorder()
	h.RefreshToken(w, req)

	AssertErrorResponse(t, w, http.StatusServiceUnavailable, pkghttp.ErrCodeServiceUnavailable)
	assert.Nil(t, refreshCookie(t, w), "cookie survives a transient failure")
}

func TestLogout(t *testing.T) {
	var revoked []string
	svc := &MockAuthService{
		LogoutFunc: func(ctx context.Context, refreshToken string) error {
			revoked = append(revoked, refreshToken)
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	h.Logout(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"tok"}, revoked)

	// no token at all is still a successful logout
	w = httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, revoked, 1)
}

func TestLogoutAll(t *testing.T) {
	svc := &MockAuthService{
		LogoutAllFunc: func(ctx context.Context, userID string) (int, error) {
			assert.Equal(t, "user-1", userID)
			return 3, nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.LogoutAll(w, httptest.NewRequest(http.MethodPost, "/api/auth/logout-all", nil))
	AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized)

	w = httptest.NewRecorder()
	h.LogoutAll(w, WithAuthContext(httptest.NewRequest(http.MethodPost, "/api/auth/logout-all", nil), "user-1", models.RoleTrader))

	var resp map[string]int
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 3, resp["revoked"])
}

func TestChangePassword(t *testing.T) {
	svc := &MockAuthService{
		ChangePasswordFunc: func(ctx context.Context, userID, current, next string, client services.ClientInfo) error {
			if current != "old-password" {
				return models.ErrUnauthorized
			}
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/auth/change-password",
		ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password-1"}), "user-1", models.RoleTrader)
	w := httptest.NewRecorder()
	h.ChangePassword(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/auth/change-password",
		ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "new-password-1"}), "user-1", models.RoleTrader)
	w = httptest.NewRecorder()
	h.ChangePassword(w, req)
	AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized)

	req = WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/auth/change-password",
		ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "short"}), "user-1", models.RoleTrader)
	w = httptest.NewRecorder()
	h.ChangePassword(w, req)
	AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.ErrCodeValidation)
}

func TestListSessions_MasksTokens(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := &MockAuthService{
		ListSessionsFunc: func(ctx context.Context, userID string) ([]*models.Session, error) {
			return []*models.Session{
				{RefreshToken: "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG", DeviceLabel: models.DeviceDesktop, SourceAddress: "10.0.0.1", CreatedAt: created, LastUsedAt: created},
				{RefreshToken: "zyxwvutsrqponmlkjihgfedcba9876543210GFEDCBA", DeviceLabel: models.DeviceMobile, SourceAddress: "10.0.0.2", CreatedAt: created, LastUsedAt: created},
			}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := WithAuthContext(httptest.NewRequest(http.MethodGet, "/api/auth/sessions", nil), "user-1", models.RoleTrader)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "zyxwvutsrqponmlkjihgfedcba9876543210GFEDCBA"})
	w := httptest.NewRecorder()
	h.ListSessions(w, req)

	var resp struct {
		Sessions []SessionResponse `json:"sessions"`
	}
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Sessions, 2)
	assert.False(t, resp.Sessions[0].Current)
	assert.True(t, resp.Sessions[1].Current)
	assert.NotContains(t, w.Body.String(), "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG")
	assert.Equal(t, models.DeviceMobile, resp.Sessions[1].Device)
}

func TestRevokeSession(t *testing.T) {
	svc := &MockAuthService{
		RevokeOwnSessionFunc: func(ctx context.Context, userID, refreshToken string) error {
			if refreshToken == "someone-elses" {
				return models.ErrNotFound
			}
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := WithAuthContext(NewTestRequest(t, http.MethodDelete, "/api/auth/sessions", RevokeSessionRequest{RefreshToken: "mine"}), "user-1", models.RoleTrader)
	w := httptest.NewRecorder()
	h.RevokeSession(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = WithAuthContext(NewTestRequest(t, http.MethodDelete, "/api/auth/sessions", RevokeSessionRequest{RefreshToken: "someone-elses"}), "user-1", models.RoleTrader)
	w = httptest.NewRecorder()
	h.RevokeSession(w, req)
	AssertErrorResponse(t, w, http.StatusNotFound, pkghttp.ErrCodeNotFound)
}

func TestTOTPEndpoints(t *testing.T) {
	enabled := false
	svc := &MockAuthService{
		EnrollTOTPFunc: func(ctx context.Context, userID string) (*auth.TOTPEnrollment, error) {
			return &auth.TOTPEnrollment{Secret: "JBSWY3DPEHPK3PXP", URL: "otpauth://totp/x", QRCodeDataURL: "data:image/png;base64,", Sealed: "sealed"}, nil
		},
		ConfirmTOTPFunc: func(ctx context.Context, userID, code string) error {
			if code != "123456" {
				return models.ErrInvalidSecondFactor
			}
			enabled = true
			return nil
		},
		DisableTOTPFunc: func(ctx context.Context, userID, password string) error {
			if password != "pw" {
				return models.ErrUnauthorized
			}
			enabled = false
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.EnrollTOTP(w, WithAuthContext(httptest.NewRequest(http.MethodPost, "/api/auth/2fa/enroll", nil), "user-1", models.RoleTrader))
	AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.Contains(t, w.Body.String(), "otpauth_url")
	assert.NotContains(t, w.Body.String(), "sealed")

	w = httptest.NewRecorder()
	h.ConfirmTOTP(w, WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/auth/2fa/confirm", TOTPCodeRequest{Code: "000000"}), "user-1", models.RoleTrader))
	AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.ErrCodeUnauthorized)

	w = httptest.NewRecorder()
	h.ConfirmTOTP(w, WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/auth/2fa/confirm", TOTPCodeRequest{Code: "123456"}), "user-1", models.RoleTrader))
	AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.True(t, enabled)

	w = httptest.NewRecorder()
	h.DisableTOTP(w, WithAuthContext(NewTestRequest(t, http.MethodPost, "/api/auth/2fa/disable", PasswordRequest{Password: "pw"}), "user-1", models.RoleTrader))
	AssertJSONResponse(t, w, http.StatusOK, nil)
	assert.False(t, enabled)
}

func TestProfile(t *testing.T) {
	svc := &MockAuthService{
		GetProfileFunc: func(ctx context.Context, userID string) (*services.UserResponse, error) {
			if userID != "user-1" {
				return nil, errors.New("unexpected user")
			}
			return &services.UserResponse{ID: "user-1", Username: "alice", Role: models.RoleTrader}, nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Profile(w, WithAuthContext(httptest.NewRequest(http.MethodGet, "/api/profile", nil), "user-1", models.RoleTrader))

	var resp services.UserResponse
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "alice", resp.Username)

	w = httptest.NewRecorder()
	h.Profile(w, WithAuthContext(httptest.NewRequest(http.MethodGet, "/api/profile", nil), "user-2", models.RoleTrader))
	AssertErrorResponse(t, w, http.StatusInternalServerError, pkghttp.ErrCodeInternal)
}
