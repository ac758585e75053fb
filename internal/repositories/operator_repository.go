package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finshield/fraud-engine/internal/models"
)

var (
	ErrOperatorNotFound      = errors.New("operator not found")
	ErrOperatorAlreadyExists = errors.New("operator already exists")
)

// OperatorRepository persists back-office operator accounts.
type OperatorRepository struct {
	db *Database
}

func NewOperatorRepository(db *Database) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// Create inserts a new operator.
func (r *OperatorRepository) Create(ctx context.Context, operator *models.Operator) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO operators (id, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		operator.ID, strings.ToLower(operator.Email), operator.PasswordHash,
		operator.Role, operator.CreatedAt, operator.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrOperatorAlreadyExists
		}
		return fmt.Errorf("failed to insert operator: %w", err)
	}
	return nil
}

// GetByEmail looks up an operator by email.
func (r *OperatorRepository) GetByEmail(ctx context.Context, email string) (*models.Operator, error) {
	return r.get(ctx, "email = $1", strings.ToLower(email))
}

// GetByID looks up an operator by ID.
func (r *OperatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Operator, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *OperatorRepository) get(ctx context.Context, where string, arg interface{}) (*models.Operator, error) {
	var operator models.Operator
	err := r.db.Pool.QueryRow(ctx,
		"SELECT id, email, password_hash, role, created_at, updated_at FROM operators WHERE "+where, arg).
		Scan(&operator.ID, &operator.Email, &operator.PasswordHash,
			&operator.Role, &operator.CreatedAt, &operator.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return &operator, nil
}
