package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/models"
	pkgauth "github.com/BradenHooton/tradergate/pkg/auth"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
)

// AuthUserRepository is the slice of user persistence the login flow needs.
type AuthUserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetTOTP(ctx context.Context, id, sealedSecret string, enabled bool) error
}

// AuthService composes the lockout guard, the session store and the token
// manager into the login, refresh and logout flows.
type AuthService struct {
	users    AuthUserRepository
	lockout  *LockoutService
	sessions *SessionService
	tokens   *auth.TokenManager
	totp     *auth.TOTPManager
	timing   *auth.TimingDelay
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users AuthUserRepository,
	lockout *LockoutService,
	sessions *SessionService,
	tokens *auth.TokenManager,
	totp *auth.TOTPManager,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:    users,
		lockout:  lockout,
		sessions: sessions,
		tokens:   tokens,
		totp:     totp,
		timing:   timing,
		logger:   logger,
		audit:    audit,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Role        string `json:"role"`
	TOTPEnabled bool   `json:"totp_enabled"`
	CreatedAt   string `json:"created_at"`
}

// AuthResponse is returned by login, second-factor verification and refresh.
// When MFARequired is set only ChallengeToken is populated.
type AuthResponse struct {
	AccessToken    string        `json:"access_token,omitempty"`
	TokenType      string        `json:"token_type,omitempty"`
	ExpiresIn      int           `json:"expires_in,omitempty"`
	RefreshToken   string        `json:"refresh_token,omitempty"`
	RefreshTTL     time.Duration `json:"-"`
	MFARequired    bool          `json:"mfa_required,omitempty"`
	ChallengeToken string        `json:"challenge_token,omitempty"`
	User           *UserResponse `json:"user,omitempty"`
}

// ClientInfo identifies where a credential was presented from.
type ClientInfo struct {
	Address   string
	UserAgent string
}

// Login checks the lock, then the password. Failures count toward lockout.
// Users with TOTP enabled get a challenge token instead of a session.
func (s *AuthService) Login(ctx context.Context, username, password string, client ClientInfo) (*AuthResponse, error) {
	start := time.Now()
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrUnauthorized
	}

	if err := s.checkLock(ctx, username, client); err != nil {
		s.timing.WaitFrom(ctx, start, false)
		return nil, err
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to get user by username", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if user == nil || pkgauth.ComparePassword(user.PasswordHash, password) != nil {
		err := s.recordFailure(ctx, user, username, client, pkglogger.EventLoginFailed, "invalid_credentials")
		s.timing.WaitFrom(ctx, start, false)
		return nil, err
	}

	if !user.IsActive {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     pkglogger.EventLoginFailed,
			UserID:        user.ID,
			Username:      username,
			IPAddress:     client.Address,
			FailureReason: "account_disabled",
		})
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrAccountDisabled
	}

	if user.TOTPEnabled {
		challenge, err := s.tokens.GenerateMFAChallenge(user.ID, user.Username)
		if err != nil {
			s.logger.Error("failed to generate mfa challenge", slog.String("user_id", user.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		s.logger.Info("second factor required", slog.String("user_id", user.ID))
		return &AuthResponse{MFARequired: true, ChallengeToken: challenge}, nil
	}

	resp, err := s.completeLogin(ctx, user, client)
	s.timing.WaitFrom(ctx, start, err == nil)
	return resp, err
}

// VerifySecondFactor exchanges a challenge token and a TOTP code for a session.
// Wrong codes count toward the same lockout as wrong passwords.
func (s *AuthService) VerifySecondFactor(ctx context.Context, challenge, code string, client ClientInfo) (*AuthResponse, error) {
	start := time.Now()

	claims, err := s.tokens.ValidateMFAChallenge(challenge)
	if err != nil {
		s.timing.WaitFrom(ctx, start, false)
		return nil, models.ErrUnauthorized
	}

	if err := s.checkLock(ctx, claims.Username, client); err != nil {
		s.timing.WaitFrom(ctx, start, false)
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for second factor", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !user.TOTPEnabled || !user.IsActive {
		return nil, models.ErrUnauthorized
	}

	valid, err := s.totp.Validate(user.TOTPSecret, strings.TrimSpace(code))
	if err != nil {
		s.logger.Error("stored TOTP secret unreadable", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		err := s.recordFailure(ctx, user, user.Username, client, pkglogger.EventSecondFactorFailed, "invalid_totp")
		s.timing.WaitFrom(ctx, start, false)
		return nil, err
	}

	return s.completeLogin(ctx, user, client)
}

// RefreshToken rotates the presented refresh token and mints a new access token.
// A refresh token is single use.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string, client ClientInfo) (*AuthResponse, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	sess, err := s.sessions.RotateSession(ctx, refreshToken, client.Address)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			s.logger.Info("refresh with unknown or reused token", slog.String("token", pkglogger.MaskedToken(refreshToken)))
			return nil, models.ErrUnauthorized
		}
		return nil, err
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil || !user.IsActive {
		if _, rerr := s.sessions.RevokeSession(ctx, sess.RefreshToken); rerr != nil {
			s.logger.Warn("failed to revoke session of unusable account", slog.Any("error", rerr))
		}
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get user for token refresh", slog.String("user_id", sess.UserID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		return nil, models.ErrUnauthorized
	}

	access, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: pkglogger.EventTokenRefreshed,
		UserID:    user.ID,
		IPAddress: client.Address,
		Success:   true,
	})

	return s.authResponse(user, access, sess), nil
}

// Logout revokes one refresh token. Unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	existed, err := s.sessions.RevokeSession(ctx, strings.TrimSpace(refreshToken))
	if err != nil {
		return err
	}
	if existed {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: pkglogger.EventSessionRevoked,
			Success:   true,
			Metadata:  map[string]string{"token": pkglogger.MaskedToken(refreshToken)},
		})
	}
	return nil
}

// LogoutAll revokes every session of the user and returns how many were removed.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	n, err := s.sessions.RevokeAllSessions(ctx, userID)
	if err != nil {
		return n, err
	}
	s.audit.LogAccountAction(pkglogger.EventSessionsRevokedAll, userID, "", map[string]string{
		"count": fmt.Sprintf("%d", n),
	})
	return n, nil
}

// ListSessions returns the caller's live sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.sessions.ListSessions(ctx, userID)
}

// RevokeOwnSession revokes refreshToken only if it belongs to userID.
func (s *AuthService) RevokeOwnSession(ctx context.Context, userID, refreshToken string) error {
	sessions, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.RefreshToken == refreshToken {
			return s.Logout(ctx, refreshToken)
		}
	}
	return models.ErrNotFound
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every session of the user.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, client ClientInfo) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		s.audit.LogPasswordChange(userID, client.Address, false)
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %w", models.ErrBadRequest, err)
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	if _, err := s.sessions.RevokeAllSessions(ctx, userID); err != nil {
		s.logger.Error("password changed but sessions not revoked", slog.String("user_id", userID), slog.Any("error", err))
	}

	s.audit.LogPasswordChange(userID, client.Address, true)
	return nil
}

// EnrollTOTP starts enrollment. The secret is stored sealed but stays
// inactive until ConfirmTOTP succeeds.
func (s *AuthService) EnrollTOTP(ctx context.Context, userID string) (*auth.TOTPEnrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TOTPEnabled {
		return nil, fmt.Errorf("%w: two-factor authentication already enabled", models.ErrConflict)
	}

	enrollment, err := s.totp.Enroll(user.Username)
	if err != nil {
		s.logger.Error("failed to generate TOTP enrollment", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.users.SetTOTP(ctx, userID, enrollment.Sealed, false); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ConfirmTOTP activates a pending enrollment once the user proves possession.
func (s *AuthService) ConfirmTOTP(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPEnabled {
		return fmt.Errorf("%w: two-factor authentication already enabled", models.ErrConflict)
	}
	if user.TOTPSecret == "" {
		return fmt.Errorf("%w: no pending enrollment", models.ErrBadRequest)
	}

	valid, err := s.totp.Validate(user.TOTPSecret, strings.TrimSpace(code))
	if err != nil {
		return models.ErrInternalServer
	}
	if !valid {
		return models.ErrInvalidSecondFactor
	}

	if err := s.users.SetTOTP(ctx, userID, user.TOTPSecret, true); err != nil {
		return err
	}
	s.audit.LogAccountAction(pkglogger.EventTOTPEnabled, userID, "", nil)
	return nil
}

// DisableTOTP turns the second factor off after re-checking the password.
func (s *AuthService) DisableTOTP(ctx context.Context, userID, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		return models.ErrUnauthorized
	}
	if err := s.users.SetTOTP(ctx, userID, "", false); err != nil {
		return err
	}
	s.audit.LogAccountAction(pkglogger.EventTOTPDisabled, userID, "", nil)
	return nil
}

// GetProfile returns the caller's own account.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userModelToResponse(user), nil
}

func (s *AuthService) checkLock(ctx context.Context, username string, client ClientInfo) error {
	status, err := s.lockout.IsLocked(ctx, username)
	if err != nil {
		return err
	}
	if !status.Locked {
		return nil
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     pkglogger.EventLoginFailed,
		Username:      username,
		IPAddress:     client.Address,
		UserAgent:     client.UserAgent,
		FailureReason: "account_locked",
	})
	return &models.LockedError{LockedUntil: status.LockedUntil}
}

// recordFailure counts the attempt and returns the error the caller should
// see: LockedError if this attempt tripped the lock, otherwise
// InvalidCredentialsError with the attempts left.
func (s *AuthService) recordFailure(ctx context.Context, user *models.User, username string, client ClientInfo, event, reason string) error {
	var userID string
	if user != nil {
		userID = user.ID
	}
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     event,
		UserID:        userID,
		Username:      username,
		IPAddress:     client.Address,
		UserAgent:     client.UserAgent,
		FailureReason: reason,
	})

	res, err := s.lockout.RecordFailedAttempt(ctx, username, client.Address)
	if err != nil {
		return models.ErrUnauthorized
	}
	if res.Locked {
		return &models.LockedError{LockedUntil: res.LockedUntil}
	}
	return &models.InvalidCredentialsError{RemainingAttempts: res.RemainingAttempts}
}

func (s *AuthService) completeLogin(ctx context.Context, user *models.User, client ClientInfo) (*AuthResponse, error) {
	if err := s.lockout.ClearFailedAttempts(ctx, user.Username, client.Address); err != nil {
		s.logger.Warn("failed to clear failed attempts", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	sess, err := s.sessions.CreateSession(ctx, user.ID, DeviceLabel(client.UserAgent), client.Address, 0)
	if err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, err
	}

	access, err := s.tokens.GenerateAccessToken(user)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginSuccess,
		UserID:    user.ID,
		Username:  user.Username,
		IPAddress: client.Address,
		UserAgent: client.UserAgent,
		Success:   true,
	})

	return s.authResponse(user, access, sess), nil
}

func (s *AuthService) authResponse(user *models.User, access string, sess *models.Session) *AuthResponse {
	return &AuthResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.tokens.AccessExpiry().Seconds()),
		RefreshToken: sess.RefreshToken,
		RefreshTTL:   time.Duration(sess.TTLSeconds) * time.Second,
		User:         userModelToResponse(user),
	}
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		FullName:    user.FullName,
		Role:        user.Role,
		TOTPEnabled: user.TOTPEnabled,
		CreatedAt:   user.CreatedAt.Format(time.RFC3339),
	}
}
