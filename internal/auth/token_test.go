package auth

import (
	"testing"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "k3X9!pQ2#vL7$wR4^mN8&zT1*bY6@cH5"

func newTestTokenManager() (*TokenManager, *clock.Mock) {
	clk := clock.NewMock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewTokenManager(testSecret, 15*time.Minute, 5*time.Minute, clk), clk
}

func testTrader() *models.User {
	return &models.User{ID: "user-1", Username: "trader1", Role: models.RoleTrader}
}

func TestTokenManager_AccessTokenRoundTrip(t *testing.T) {
	tm, _ := newTestTokenManager()

	token, err := tm.GenerateAccessToken(testTrader())
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeAccess, claims.Type)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "trader1", claims.Username)
	assert.Equal(t, models.RoleTrader, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_UniqueJTI(t *testing.T) {
	tm, _ := newTestTokenManager()

	a, err := tm.GenerateAccessToken(testTrader())
	require.NoError(t, err)
	b, err := tm.GenerateAccessToken(testTrader())
	require.NoError(t, err)

	ca, _ := tm.ValidateToken(a)
	cb, _ := tm.ValidateToken(b)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestTokenManager_Expired(t *testing.T) {
	tm, clk := newTestTokenManager()

	token, err := tm.GenerateAccessToken(testTrader())
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)

	_, err = tm.ValidateToken(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	tm, clk := newTestTokenManager()
	other := NewTokenManager("another-secret-that-is-long-enough!!", time.Minute, time.Minute, clk)

	token, err := other.GenerateAccessToken(testTrader())
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_RejectsNoneAlgorithm(t *testing.T) {
	tm, clk := newTestTokenManager()

	claims := &models.TokenClaims{
		Type:   models.TokenTypeAccess,
		UserID: "user-1",
		Role:   models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_Tampered(t *testing.T) {
	tm, _ := newTestTokenManager()

	token, err := tm.GenerateAccessToken(testTrader())
	require.NoError(t, err)

	_, err = tm.ValidateToken(token[:len(token)-2] + "xx")
	assert.Error(t, err)
}

func TestTokenManager_MFAChallenge(t *testing.T) {
	tm, clk := newTestTokenManager()

	challenge, err := tm.GenerateMFAChallenge("user-1", "trader1")
	require.NoError(t, err)

	claims, err := tm.ValidateMFAChallenge(challenge)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTypeMFAChallenge, claims.Type)
	assert.Empty(t, claims.Role)

	access, err := tm.GenerateAccessToken(testTrader())
	require.NoError(t, err)
	_, err = tm.ValidateMFAChallenge(access)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	clk.Advance(6 * time.Minute)
	_, err = tm.ValidateMFAChallenge(challenge)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
