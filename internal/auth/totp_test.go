package auth

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) (*TOTPManager, *clock.Mock) {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	clk := clock.NewMock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	tm, err := NewTOTPManager(key, "TraderGate", clk)
	require.NoError(t, err)
	return tm, clk
}

func TestNewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 31, 33} {
		tm, err := NewTOTPManager(make([]byte, length), "TraderGate", nil)
		assert.Error(t, err)
		assert.Nil(t, tm)
	}
}

func TestDeriveTOTPKey(t *testing.T) {
	assert.Len(t, DeriveTOTPKey("secret"), 32)
	assert.Equal(t, DeriveTOTPKey("secret"), DeriveTOTPKey("secret"))
	assert.NotEqual(t, DeriveTOTPKey("secret"), DeriveTOTPKey("other"))
}

func TestTOTPManager_Enroll(t *testing.T) {
	tm, _ := newTestTOTPManager(t)

	enrollment, err := tm.Enroll("trader1")
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.Secret)
	assert.True(t, strings.HasPrefix(enrollment.QRCodeDataURL, "data:image/png;base64,"))
	assert.Contains(t, enrollment.URL, "otpauth://totp/")
	assert.Contains(t, enrollment.URL, "trader1")
	assert.NotContains(t, enrollment.Sealed, enrollment.Secret)

	opened, err := tm.Open(enrollment.Sealed)
	require.NoError(t, err)
	assert.Equal(t, enrollment.Secret, opened)
}

func TestTOTPManager_SealUsesFreshNonce(t *testing.T) {
	tm, _ := newTestTOTPManager(t)

	a, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	b, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTOTPManager_OpenRejectsTampering(t *testing.T) {
	tm, _ := newTestTOTPManager(t)
	other, _ := newTestTOTPManager(t)

	sealed, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrInvalidSealedSecret)

	_, err = tm.Open("not base64!")
	assert.ErrorIs(t, err, ErrInvalidSealedSecret)

	_, err = tm.Open("")
	assert.ErrorIs(t, err, ErrInvalidSealedSecret)
}

func TestTOTPManager_Validate(t *testing.T) {
	tm, clk := newTestTOTPManager(t)

	enrollment, err := tm.Enroll("trader1")
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrollment.Secret, clk.Now())
	require.NoError(t, err)

	valid, err := tm.Validate(enrollment.Sealed, code)
	require.NoError(t, err)
	assert.True(t, valid)

	// one step of drift is accepted
	clk.Advance(30 * time.Second)
	valid, _ = tm.Validate(enrollment.Sealed, code)
	assert.True(t, valid)

	clk.Advance(5 * time.Minute)
	valid, _ = tm.Validate(enrollment.Sealed, code)
	assert.False(t, valid)
}

func TestTOTPManager_Validate_MalformedCode(t *testing.T) {
	tm, _ := newTestTOTPManager(t)

	enrollment, err := tm.Enroll("trader1")
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "abcdef", "1234567"} {
		valid, err := tm.Validate(enrollment.Sealed, code)
		assert.NoError(t, err)
		assert.False(t, valid, code)
	}
}
