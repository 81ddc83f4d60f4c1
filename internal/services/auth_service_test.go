package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/tradergate/internal/auth"
	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/kvstore"
	"github.com/BradenHooton/tradergate/internal/models"
	pkgauth "github.com/BradenHooton/tradergate/pkg/auth"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Tr4der!Secure"

func init() {
	pkgauth.BcryptCost = bcrypt.MinCost
}

type authFixture struct {
	svc      *AuthService
	users    *MockUserRepository
	sessions *SessionService
	lockout  *LockoutService
	tokens   *auth.TokenManager
	totp     *auth.TOTPManager
	clock    *clock.Mock
}

var desktopClient = ClientInfo{Address: "10.0.0.1", UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	clk := clock.NewMock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	hash, err := pkgauth.HashPassword(testPassword)
	require.NoError(t, err)
	users := NewMockUserRepository(&models.User{
		ID:           "user-1",
		Username:     "trader1",
		Email:        "trader1@example.com",
		PasswordHash: hash,
		Role:         models.RoleTrader,
		IsActive:     true,
		CreatedAt:    clk.Now(),
	})

	store := kvstore.NewMemoryStore(clk)
	totpMgr, err := auth.NewTOTPManager(auth.DeriveTOTPKey("test-secret"), "TraderGate", clk)
	require.NoError(t, err)

	f := &authFixture{
		users:    users,
		lockout:  NewLockoutService(store, lockoutTestConfig, clk, discardLogger(), discardAudit(), nil),
		sessions: NewSessionService(store, SessionConfig{TTL: testSessionTTL}, clk, discardLogger(), nil),
		tokens:   auth.NewTokenManager("test-jwt-secret-with-enough-entropy", 15*time.Minute, 5*time.Minute, clk),
		totp:     totpMgr,
		clock:    clk,
	}
	f.svc = NewAuthService(users, f.lockout, f.sessions, f.tokens, f.totp, nil, discardLogger(), discardAudit())
	return f
}

// enableTOTP enrolls and confirms user-1, returning the plain secret.
func (f *authFixture) enableTOTP(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	enrollment, err := f.svc.EnrollTOTP(ctx, "user-1")
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrollment.Secret, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.svc.ConfirmTOTP(ctx, "user-1", code))
	return enrollment.Secret
}

func wrongCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	b := []byte(code)
	b[5] = '0' + (b[5]-'0'+5)%10
	return string(b)
}

func TestAuthService_Login_Success(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Login(ctx, " trader1 ", testPassword, desktopClient)
	require.NoError(t, err)

	assert.False(t, resp.MFARequired)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 900, resp.ExpiresIn)
	assert.Equal(t, testSessionTTL, resp.RefreshTTL)
	require.NotNil(t, resp.User)
	assert.Equal(t, "trader1", resp.User.Username)
	assert.Equal(t, models.RoleTrader, resp.User.Role)

	claims, err := f.tokens.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)

	sess, err := f.sessions.ValidateSession(ctx, resp.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, models.DeviceDesktop, sess.DeviceLabel)
	assert.Equal(t, "10.0.0.1", sess.SourceAddress)
}

func TestAuthService_Login_InvalidCredentials(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "trader1", "Wrong!Pass1"},
		{"unknown user", "ghost", testPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)

			_, err := f.svc.Login(context.Background(), tt.username, tt.password, desktopClient)
			assert.ErrorIs(t, err, models.ErrUnauthorized)

			var invalid *models.InvalidCredentialsError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, 4, invalid.RemainingAttempts)
		})
	}
}

func TestAuthService_Login_EmptyInput(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), "", testPassword, desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	remaining, err := f.lockout.RemainingAttempts(context.Background(), "", desktopClient.Address)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestAuthService_Login_LocksAfterThreshold(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.svc.Login(ctx, "trader1", "Wrong!Pass1", desktopClient)
		require.ErrorIs(t, err, models.ErrUnauthorized)
	}

	_, err := f.svc.Login(ctx, "trader1", "Wrong!Pass1", desktopClient)
	assert.ErrorIs(t, err, models.ErrAccountLocked)
	var locked *models.LockedError
	require.True(t, errors.As(err, &locked))
	require.NotNil(t, locked.LockedUntil)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute).Unix(), locked.LockedUntil.Unix())

	_, err = f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	assert.ErrorIs(t, err, models.ErrAccountLocked, "correct password must not bypass the lock")

	_, err = f.svc.Login(ctx, "trader1", testPassword, ClientInfo{Address: "10.9.9.9"})
	assert.ErrorIs(t, err, models.ErrAccountLocked, "lock applies from every address")

	f.clock.Advance(31 * time.Minute)
	resp, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAuthService_Login_UnknownUsernameCanLock(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.svc.Login(ctx, "ghost", "whatever", desktopClient)
	}

	status, err := f.lockout.IsLocked(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, status.Locked)
}

func TestAuthService_Login_SuccessResetsAttempts(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for round := 0; round < 2; round++ {
		for i := 0; i < 4; i++ {
			_, err := f.svc.Login(ctx, "trader1", "Wrong!Pass1", desktopClient)
			require.NotErrorIs(t, err, models.ErrAccountLocked)
		}
		_, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
		require.NoError(t, err)
	}
}

func TestAuthService_Login_InactiveAccount(t *testing.T) {
	f := newAuthFixture(t)
	f.users.Users["user-1"].IsActive = false
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	assert.ErrorIs(t, err, models.ErrAccountDisabled)

	_, err = f.svc.Login(ctx, "trader1", "Wrong!Pass1", desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.NotErrorIs(t, err, models.ErrAccountDisabled)
}

func TestAuthService_Login_RepositoryError(t *testing.T) {
	f := newAuthFixture(t)
	f.users.GetByUsernameFunc = func(ctx context.Context, username string) (*models.User, error) {
		return nil, errors.New("connection reset")
	}

	_, err := f.svc.Login(context.Background(), "trader1", testPassword, desktopClient)
	assert.ErrorIs(t, err, models.ErrInternalServer)
}

func TestAuthService_SecondFactorFlow(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	secret := f.enableTOTP(t)

	resp, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	require.NoError(t, err)
	assert.True(t, resp.MFARequired)
	assert.NotEmpty(t, resp.ChallengeToken)
	assert.Empty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken)

	_, err = f.svc.VerifySecondFactor(ctx, resp.ChallengeToken, wrongCode(t, secret, f.clock.Now()), desktopClient)
	var invalid *models.InvalidCredentialsError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, 4, invalid.RemainingAttempts)

	code, err := totp.GenerateCode(secret, f.clock.Now())
	require.NoError(t, err)
	full, err := f.svc.VerifySecondFactor(ctx, resp.ChallengeToken, code, desktopClient)
	require.NoError(t, err)
	assert.NotEmpty(t, full.AccessToken)
	assert.NotEmpty(t, full.RefreshToken)
	assert.True(t, full.User.TOTPEnabled)
}

func TestAuthService_SecondFactor_RejectsWrongTokens(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	secret := f.enableTOTP(t)
	code, err := totp.GenerateCode(secret, f.clock.Now())
	require.NoError(t, err)

	access, err := f.tokens.GenerateAccessToken(f.users.Users["user-1"])
	require.NoError(t, err)
	_, err = f.svc.VerifySecondFactor(ctx, access, code, desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	challenge, err := f.tokens.GenerateMFAChallenge("user-1", "trader1")
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)
	code, err = totp.GenerateCode(secret, f.clock.Now())
	require.NoError(t, err)
	_, err = f.svc.VerifySecondFactor(ctx, challenge, code, desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_TOTPEnrollment(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	err := f.svc.ConfirmTOTP(ctx, "user-1", "123456")
	assert.ErrorIs(t, err, models.ErrBadRequest)

	enrollment, err := f.svc.EnrollTOTP(ctx, "user-1")
	require.NoError(t, err)
	assert.Contains(t, enrollment.URL, "otpauth://totp/")
	assert.Contains(t, enrollment.QRCodeDataURL, "data:image/png;base64,")
	assert.NotEqual(t, enrollment.Secret, f.users.Users["user-1"].TOTPSecret, "secret must be stored sealed")
	assert.False(t, f.users.Users["user-1"].TOTPEnabled)

	err = f.svc.ConfirmTOTP(ctx, "user-1", wrongCode(t, enrollment.Secret, f.clock.Now()))
	assert.ErrorIs(t, err, models.ErrInvalidSecondFactor)

	code, err := totp.GenerateCode(enrollment.Secret, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.svc.ConfirmTOTP(ctx, "user-1", code))
	assert.True(t, f.users.Users["user-1"].TOTPEnabled)

	_, err = f.svc.EnrollTOTP(ctx, "user-1")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestAuthService_DisableTOTP(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.enableTOTP(t)

	err := f.svc.DisableTOTP(ctx, "user-1", "Wrong!Pass1")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.True(t, f.users.Users["user-1"].TOTPEnabled)

	require.NoError(t, f.svc.DisableTOTP(ctx, "user-1", testPassword))
	assert.False(t, f.users.Users["user-1"].TOTPEnabled)
	assert.Empty(t, f.users.Users["user-1"].TOTPSecret)

	resp, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	require.NoError(t, err)
	assert.False(t, resp.MFARequired)
}

func TestAuthService_RefreshToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	refreshed, err := f.svc.RefreshToken(ctx, login.RefreshToken, desktopClient)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, login.AccessToken, refreshed.AccessToken)

	_, err = f.tokens.ValidateToken(refreshed.AccessToken)
	require.NoError(t, err)

	_, err = f.svc.RefreshToken(ctx, login.RefreshToken, desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized, "refresh tokens are single use")

	_, err = f.svc.RefreshToken(ctx, "  ", desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_RefreshToken_InactiveUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	require.NoError(t, err)
	f.users.Users["user-1"].IsActive = false

	_, err = f.svc.RefreshToken(ctx, login.RefreshToken, desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	list, err := f.sessions.ListSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuthService_RefreshToken_StoreOutage(t *testing.T) {
	tests := []struct {
		name     string
		failOpen bool
		wantErr  error
	}{
		{"fail closed surfaces the outage", false, models.ErrBackendUnavailable},
		{"fail open treats the session as absent", true, models.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			sessions := NewSessionService(unavailableStore{}, SessionConfig{TTL: testSessionTTL, FailOpen: tt.failOpen}, f.clock, discardLogger(), nil)
			svc := NewAuthService(f.users, f.lockout, sessions, f.tokens, f.totp, nil, discardLogger(), discardAudit())

			_, err := svc.RefreshToken(context.Background(), "some-refresh-token", desktopClient)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthService_RefreshToken_BumpsLastUsed(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	refreshed, err := f.svc.RefreshToken(ctx, login.RefreshToken, desktopClient)
	require.NoError(t, err)

	sess, err := f.sessions.ValidateSession(ctx, refreshed.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, f.clock.Now(), sess.LastUsedAt)
}

func TestAuthService_Logout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, login.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, login.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, ""))

	_, err = f.svc.RefreshToken(ctx, login.RefreshToken, desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAuthService_LogoutAll(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
		require.NoError(t, err)
	}

	n, err := f.svc.LogoutAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := f.svc.ListSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuthService_RevokeOwnSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	require.NoError(t, err)

	err = f.svc.RevokeOwnSession(ctx, "user-2", login.RefreshToken)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, f.svc.RevokeOwnSession(ctx, "user-1", login.RefreshToken))
	list, err := f.svc.ListSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuthService_ChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	const newPassword = "N3w!Passphrase"

	login, err := f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, "user-1", "Wrong!Pass1", newPassword, desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	err = f.svc.ChangePassword(ctx, "user-1", testPassword, "short", desktopClient)
	assert.ErrorIs(t, err, models.ErrBadRequest)

	require.NoError(t, f.svc.ChangePassword(ctx, "user-1", testPassword, newPassword, desktopClient))

	_, err = f.svc.RefreshToken(ctx, login.RefreshToken, desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized, "password change revokes sessions")

	_, err = f.svc.Login(ctx, "trader1", testPassword, desktopClient)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.Login(ctx, "trader1", newPassword, desktopClient)
	require.NoError(t, err)
}

func TestAuthService_GetProfile(t *testing.T) {
	f := newAuthFixture(t)

	profile, err := f.svc.GetProfile(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "trader1@example.com", profile.Email)

	_, err = f.svc.GetProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
