package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// ErrInvalidSealedSecret is returned when a stored secret cannot be decrypted.
var ErrInvalidSealedSecret = errors.New("invalid sealed TOTP secret")

// TOTPEnrollment is handed to the user once, while enrollment is pending.
type TOTPEnrollment struct {
	Secret        string `json:"secret"`
	URL           string `json:"otpauth_url"`
	QRCodeDataURL string `json:"qr_code"`
	Sealed        string `json:"-"`
}

// TOTPManager generates, seals and validates TOTP secrets.
// Secrets are stored AES-256-GCM sealed as base64(nonce || ciphertext).
type TOTPManager struct {
	aead   cipher.AEAD
	issuer string
	clock  clock.Clock
}

// DeriveTOTPKey turns an arbitrary secret into a 32-byte AES key.
func DeriveTOTPKey(secret string) []byte {
	sum := sha256.Sum256([]byte("tradergate-totp:" + secret))
	return sum[:]
}

// NewTOTPManager creates a new TOTP manager
// encryptionKey must be exactly 32 bytes for AES-256
func NewTOTPManager(encryptionKey []byte, issuer string, clk clock.Clock) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}
	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &TOTPManager{aead: aead, issuer: issuer, clock: clk}, nil
}

// Enroll generates a fresh secret for accountName with its provisioning QR code.
func (tm *TOTPManager) Enroll(accountName string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	sealed, err := tm.Seal(key.Secret())
	if err != nil {
		return nil, err
	}

	return &TOTPEnrollment{
		Secret:        key.Secret(),
		URL:           key.URL(),
		QRCodeDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		Sealed:        sealed,
	}, nil
}

// Seal encrypts a base32 secret for storage.
func (tm *TOTPManager) Seal(secret string) (string, error) {
	nonce := make([]byte, tm.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := tm.aead.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (tm *TOTPManager) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < tm.aead.NonceSize() {
		return "", ErrInvalidSealedSecret
	}
	nonce, ciphertext := raw[:tm.aead.NonceSize()], raw[tm.aead.NonceSize():]
	plain, err := tm.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidSealedSecret
	}
	return string(plain), nil
}

// Validate checks code against a sealed secret.
// Allows ±1 time step for clock drift.
func (tm *TOTPManager) Validate(sealed, code string) (bool, error) {
	secret, err := tm.Open(sealed)
	if err != nil {
		return false, err
	}
	valid, err := totp.ValidateCustom(code, secret, tm.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// malformed codes are a failed attempt, not a server error
		return false, nil
	}
	return valid, nil
}
