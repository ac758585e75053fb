package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/internal/auth"
	"github.com/finshield/fraud-engine/internal/models"
	"github.com/finshield/fraud-engine/internal/repositories"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService manages back-office operator accounts and their tokens.
type AuthService struct {
	operators *repositories.OperatorRepository
	jwt       *auth.JWTManager
}

func NewAuthService(operators *repositories.OperatorRepository, jwt *auth.JWTManager) *AuthService {
	return &AuthService{operators: operators, jwt: jwt}
}

// Register creates an operator account and returns it with a fresh token.
func (s *AuthService) Register(ctx context.Context, email, password, role string) (*models.Operator, string, error) {
	if role != models.RoleReviewer && role != models.RoleAdmin {
		return nil, "", fmt.Errorf("unknown role %q", role)
	}
	if err := auth.ValidatePasswordStrength(password); err != nil {
		return nil, "", err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	operator := &models.Operator{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.operators.Create(ctx, operator); err != nil {
		return nil, "", err
	}

	token, err := s.jwt.GenerateOperatorToken(operator.ID, operator.Email, operator.Role)
	if err != nil {
		return nil, "", err
	}

	log.Info().Str("operator_id", operator.ID.String()).Str("role", role).Msg("Operator registered")
	return operator, token, nil
}

// Login verifies credentials and returns the operator with a fresh token.
// Lookup failures and password mismatches are indistinguishable to the
// caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.Operator, string, error) {
	operator, err := s.operators.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrOperatorNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := auth.CheckPassword(password, operator.PasswordHash); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateOperatorToken(operator.ID, operator.Email, operator.Role)
	if err != nil {
		return nil, "", err
	}
	return operator, token, nil
}

// Refresh issues a new token for a still-valid one.
func (s *AuthService) Refresh(ctx context.Context, tokenString string) (string, error) {
	claims, err := s.jwt.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}

	operator, err := s.operators.GetByID(ctx, claims.UserID)
	if err != nil {
		return "", err
	}
	return s.jwt.GenerateOperatorToken(operator.ID, operator.Email, operator.Role)
}
