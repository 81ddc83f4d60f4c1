package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret          []byte
	accessExpiry    time.Duration
	challengeExpiry time.Duration
	clock           clock.Clock
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry, challengeExpiry time.Duration, clk clock.Clock) *TokenManager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TokenManager{
		secret:          []byte(secret),
		accessExpiry:    accessExpiry,
		challengeExpiry: challengeExpiry,
		clock:           clk,
	}
}

// AccessExpiry returns the lifetime of access tokens.
func (tm *TokenManager) AccessExpiry() time.Duration {
	return tm.accessExpiry
}

// GenerateAccessToken creates a short-lived access token with JTI
func (tm *TokenManager) GenerateAccessToken(user *models.User) (string, error) {
	return tm.sign(&models.TokenClaims{
		Type:     models.TokenTypeAccess,
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}, tm.accessExpiry)
}

// GenerateMFAChallenge creates the token exchanged for a session once the
// second factor is verified. It carries no role and is refused by AuthMiddleware.
func (tm *TokenManager) GenerateMFAChallenge(userID, username string) (string, error) {
	return tm.sign(&models.TokenClaims{
		Type:     models.TokenTypeMFAChallenge,
		UserID:   userID,
		Username: username,
	}, tm.challengeExpiry)
}

func (tm *TokenManager) sign(claims *models.TokenClaims, ttl time.Duration) (string, error) {
	now := tm.clock.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}
	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnauthorized, err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type == "" || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing type or subject", models.ErrUnauthorized)
	}

	return claims, nil
}

// ValidateMFAChallenge verifies a challenge token issued by GenerateMFAChallenge.
func (tm *TokenManager) ValidateMFAChallenge(tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeMFAChallenge {
		return nil, fmt.Errorf("%w: not a challenge token", models.ErrUnauthorized)
	}
	return claims, nil
}
