package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims carried by both identity and operator tokens. Identity tokens carry
// the KYC and account-age fields the behavioral signal needs; operator tokens
// carry a role instead.
type Claims struct {
	UserID           uuid.UUID `json:"user_id"`
	Email            string    `json:"email"`
	Role             string    `json:"role,omitempty"`
	KYCVerified      bool      `json:"kyc_verified,omitempty"`
	AccountCreatedAt int64     `json:"account_created_at,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates tokens with a shared HMAC secret.
type JWTManager struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
}

func NewJWTManager(secret, issuer string, tokenTTL time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), issuer: issuer, tokenTTL: tokenTTL}
}

// GenerateIdentityToken issues a token for a screened customer identity.
func (m *JWTManager) GenerateIdentityToken(userID uuid.UUID, email string, kycVerified bool, accountCreatedAt time.Time) (string, error) {
	return m.sign(Claims{
		UserID:           userID,
		Email:            email,
		KYCVerified:      kycVerified,
		AccountCreatedAt: accountCreatedAt.Unix(),
	})
}

// GenerateOperatorToken issues a token for a back-office operator.
func (m *JWTManager) GenerateOperatorToken(operatorID uuid.UUID, email, role string) (string, error) {
	return m.sign(Claims{
		UserID: operatorID,
		Email:  email,
		Role:   role,
	})
}

func (m *JWTManager) sign(claims Claims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   claims.UserID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token, returning its claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
