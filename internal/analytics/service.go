// Package analytics serves the back-office read surface: recent events,
// aggregate summaries and manual-review workflow.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/internal/audit"
	"github.com/finshield/fraud-engine/internal/models"
	"github.com/finshield/fraud-engine/internal/queue"
	"github.com/finshield/fraud-engine/internal/repositories"
)

// LiveMetricsKey is the Redis hash the analytics worker flushes its
// real-time aggregates into.
const LiveMetricsKey = "fraud:metrics:live"

// ErrInvalidReviewAction reports a review action outside the allowed set.
var ErrInvalidReviewAction = errors.New("invalid review action")

// Service backs the admin API.
type Service struct {
	events  *repositories.FraudEventRepository
	reviews *repositories.ReviewRepository
	cache   *queue.CacheClient
}

func NewService(events *repositories.FraudEventRepository, reviews *repositories.ReviewRepository, cache *queue.CacheClient) *Service {
	return &Service{events: events, reviews: reviews, cache: cache}
}

// RecentEvents returns the newest events, reading the capped Redis buffer
// first and falling back to the database when the buffer is empty.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]*models.FraudEvent, error) {
	raw, err := s.cache.Range(ctx, audit.RecentEventsKey, 0, int64(limit)-1)
	if err != nil {
		log.Warn().Err(err).Msg("Recent-events buffer unavailable, falling back to database")
	}

	if len(raw) > 0 {
		events := make([]*models.FraudEvent, 0, len(raw))
		for _, item := range raw {
			var event models.FraudEvent
			if err := json.Unmarshal([]byte(item), &event); err != nil {
				log.Warn().Err(err).Msg("Skipping malformed event in recent buffer")
				continue
			}
			events = append(events, &event)
		}
		return events, nil
	}

	return s.events.GetRecent(ctx, limit)
}

// Summary aggregates event statistics over the last N days.
func (s *Service) Summary(ctx context.Context, days int) (*models.RiskSummary, error) {
	return s.events.Summary(ctx, days)
}

// TopFactors returns the most frequent risk factor labels.
func (s *Service) TopFactors(ctx context.Context, days, limit int) ([]models.FactorCount, error) {
	return s.events.TopFactors(ctx, days, limit)
}

// HourlyVolume returns per-hour event counts for the last 24 hours.
func (s *Service) HourlyVolume(ctx context.Context) ([]models.HourlyVolume, error) {
	return s.events.HourlyVolume(ctx)
}

// IdentityHistory returns an identity's screening history.
func (s *Service) IdentityHistory(ctx context.Context, identityID uuid.UUID, days, limit int) ([]*models.FraudEvent, error) {
	return s.events.GetByIdentity(ctx, identityID, days, limit)
}

// LiveMetrics returns the real-time aggregates maintained by the analytics
// worker. An empty map means the worker has not flushed yet.
func (s *Service) LiveMetrics(ctx context.Context) (map[string]string, error) {
	return s.cache.HGetAll(ctx, LiveMetricsKey)
}

// CompleteReview records a manual-review outcome for an assessment. The
// assessment must exist and can be reviewed once.
func (s *Service) CompleteReview(ctx context.Context, assessmentID uuid.UUID, action, reviewer, notes string) (*models.ReviewRecord, error) {
	if action != models.ReviewActionConfirm && action != models.ReviewActionDismiss {
		return nil, ErrInvalidReviewAction
	}

	if _, err := s.events.GetByAssessmentID(ctx, assessmentID); err != nil {
		return nil, err
	}

	now := time.Now()
	review := &models.ReviewRecord{
		ID:           uuid.New(),
		AssessmentID: assessmentID,
		Action:       action,
		Reviewer:     reviewer,
		Notes:        notes,
		ReviewedAt:   now,
		CreatedAt:    now,
	}
	if err := s.reviews.Create(ctx, review); err != nil {
		return nil, err
	}

	log.Info().
		Str("assessment_id", assessmentID.String()).
		Str("action", action).
		Str("reviewer", reviewer).
		Msg("Manual review completed")
	return review, nil
}

// RecentReviews lists the most recent completed reviews.
func (s *Service) RecentReviews(ctx context.Context, limit int) ([]*models.ReviewRecord, error) {
	return s.reviews.ListRecent(ctx, limit)
}
