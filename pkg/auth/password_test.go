package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		shouldFail bool
	}{
		{"valid strong password", "SecureP@ss123", false},
		{"valid with multiple special chars", "Secure#P@ssw0rd", false},
		{"too short", "Pass@1", true},
		{"missing uppercase", "securepass@123", true},
		{"missing lowercase", "SECUREPASS@123", true},
		{"missing digit", "SecurePass@xyz", true},
		{"missing special character", "SecurePass123", true},
		{"common password rejected", "Password123!", true},
		{"domain common password rejected", "Trader123!", true},
		{"too long for bcrypt", "Aa1@" + strings.Repeat("x", 80), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)

			if !tt.shouldFail {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}

			var verr *PasswordValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected PasswordValidationError, got %v", err)
			}
			if err.Error() != "invalid password" {
				t.Errorf("error message leaks rules: %q", err.Error())
			}
			if len(verr.Errors) == 0 {
				t.Error("expected internal rule details")
			}
		})
	}
}

func TestHashAndComparePassword(t *testing.T) {
	old := BcryptCost
	BcryptCost = bcrypt.MinCost
	t.Cleanup(func() { BcryptCost = old })

	hash, err := HashPassword("SecureP@ss123")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "SecureP@ss123" {
		t.Fatal("hash equals plaintext")
	}

	if err := ComparePassword(hash, "SecureP@ss123"); err != nil {
		t.Errorf("ComparePassword(correct) = %v", err)
	}
	if err := ComparePassword(hash, "WrongP@ss123"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("ComparePassword(wrong) = %v, want ErrPasswordMismatch", err)
	}
	if err := ComparePassword("", "SecureP@ss123"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("ComparePassword(empty hash) = %v, want ErrPasswordMismatch", err)
	}
	if err := ComparePassword("not-a-bcrypt-hash", "x"); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("ComparePassword(garbage hash) = %v, want ErrPasswordMismatch", err)
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Error("expected error for empty password")
	}
}
