package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/finshield/fraud-engine/internal/models"
)

var (
	ErrReviewNotFound      = errors.New("review not found")
	ErrReviewAlreadyExists = errors.New("assessment already reviewed")
)

// ReviewRepository persists manual-review outcomes. Reviews are
// append-only; the assessment they refer to is never mutated.
type ReviewRepository struct {
	db *Database
}

func NewReviewRepository(db *Database) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create appends a review record. Each assessment accepts at most one.
func (r *ReviewRepository) Create(ctx context.Context, review *models.ReviewRecord) error {
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO fraud_reviews (id, assessment_id, action, reviewer, notes, reviewed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (assessment_id) DO NOTHING`,
		review.ID, review.AssessmentID, review.Action, review.Reviewer,
		review.Notes, review.ReviewedAt, review.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReviewAlreadyExists
	}
	return nil
}

// GetByAssessmentID returns the review recorded for an assessment.
func (r *ReviewRepository) GetByAssessmentID(ctx context.Context, assessmentID uuid.UUID) (*models.ReviewRecord, error) {
	var review models.ReviewRecord
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, assessment_id, action, reviewer, notes, reviewed_at, created_at
		FROM fraud_reviews WHERE assessment_id = $1`, assessmentID).
		Scan(&review.ID, &review.AssessmentID, &review.Action, &review.Reviewer,
			&review.Notes, &review.ReviewedAt, &review.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return &review, nil
}

// ListRecent returns the most recent reviews, newest first.
func (r *ReviewRepository) ListRecent(ctx context.Context, limit int) ([]*models.ReviewRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, assessment_id, action, reviewer, notes, reviewed_at, created_at
		FROM fraud_reviews ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*models.ReviewRecord
	for rows.Next() {
		var review models.ReviewRecord
		if err := rows.Scan(&review.ID, &review.AssessmentID, &review.Action,
			&review.Reviewer, &review.Notes, &review.ReviewedAt, &review.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, &review)
	}
	return reviews, rows.Err()
}
