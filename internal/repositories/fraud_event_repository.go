package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/finshield/fraud-engine/internal/models"
)

// ErrEventNotFound is returned when no fraud event matches the query.
var ErrEventNotFound = errors.New("fraud event not found")

// FraudEventRepository persists fraud events.
type FraudEventRepository struct {
	db *Database
}

func NewFraudEventRepository(db *Database) *FraudEventRepository {
	return &FraudEventRepository{db: db}
}

const insertEventSQL = `
	INSERT INTO fraud_events (
		id, assessment_id, identity_id, score, risk_level, action,
		factors, factor_scores, requires_review, system_error, assessed_at,
		event_type, path, method, masked_ip, user_agent, request_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (id) DO NOTHING`

// Create persists a single fraud event. Inserts are idempotent on the event
// ID so stream redeliveries do not duplicate rows.
func (r *FraudEventRepository) Create(ctx context.Context, event *models.FraudEvent) error {
	args, err := insertArgs(event)
	if err != nil {
		return err
	}
	if _, err := r.db.Pool.Exec(ctx, insertEventSQL, args...); err != nil {
		return fmt.Errorf("failed to insert fraud event: %w", err)
	}
	return nil
}

// CreateBatch persists a batch of events in one round trip.
func (r *FraudEventRepository) CreateBatch(ctx context.Context, events []*models.FraudEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		args, err := insertArgs(event)
		if err != nil {
			return err
		}
		batch.Queue(insertEventSQL, args...)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert fraud event batch: %w", err)
		}
	}
	return nil
}

func insertArgs(event *models.FraudEvent) ([]interface{}, error) {
	factorScores, err := json.Marshal(event.Assessment.FactorScores)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal factor scores: %w", err)
	}

	return []interface{}{
		event.ID,
		event.Assessment.ID,
		event.Assessment.IdentityID,
		event.Assessment.Score,
		string(event.Assessment.RiskLevel),
		string(event.Assessment.Action),
		pq.Array(event.Assessment.Factors),
		factorScores,
		event.Assessment.RequiresReview,
		event.Assessment.SystemError,
		event.Assessment.CreatedAt,
		event.EventType,
		event.Path,
		event.Method,
		event.MaskedIP,
		event.UserAgent,
		event.RequestID,
		event.CreatedAt,
	}, nil
}

const selectEventSQL = `
	SELECT id, assessment_id, identity_id, score, risk_level, action,
	       factors, factor_scores, requires_review, system_error, assessed_at,
	       event_type, path, method, masked_ip, user_agent, request_id, created_at
	FROM fraud_events`

// GetByAssessmentID returns the event recorded for an assessment.
func (r *FraudEventRepository) GetByAssessmentID(ctx context.Context, assessmentID uuid.UUID) (*models.FraudEvent, error) {
	row := r.db.Pool.QueryRow(ctx, selectEventSQL+" WHERE assessment_id = $1", assessmentID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get fraud event: %w", err)
	}
	return event, nil
}

// GetRecent returns the most recent events, newest first.
func (r *FraudEventRepository) GetRecent(ctx context.Context, limit int) ([]*models.FraudEvent, error) {
	rows, err := r.db.Pool.Query(ctx, selectEventSQL+" ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent fraud events: %w", err)
	}
	defer rows.Close()

	var events []*models.FraudEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fraud event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetByIdentity returns an identity's events within the last N days.
func (r *FraudEventRepository) GetByIdentity(ctx context.Context, identityID uuid.UUID, days, limit int) ([]*models.FraudEvent, error) {
	rows, err := r.db.Pool.Query(ctx,
		selectEventSQL+` WHERE identity_id = $1 AND created_at > NOW() - ($2 || ' days')::interval
		 ORDER BY created_at DESC LIMIT $3`,
		identityID, days, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity fraud events: %w", err)
	}
	defer rows.Close()

	var events []*models.FraudEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fraud event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*models.FraudEvent, error) {
	var event models.FraudEvent
	var factors pq.StringArray
	var factorScores []byte
	var riskLevel, action string

	err := row.Scan(
		&event.ID,
		&event.Assessment.ID,
		&event.Assessment.IdentityID,
		&event.Assessment.Score,
		&riskLevel,
		&action,
		&factors,
		&factorScores,
		&event.Assessment.RequiresReview,
		&event.Assessment.SystemError,
		&event.Assessment.CreatedAt,
		&event.EventType,
		&event.Path,
		&event.Method,
		&event.MaskedIP,
		&event.UserAgent,
		&event.RequestID,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Assessment.RiskLevel = models.RiskLevel(riskLevel)
	event.Assessment.Action = models.Action(action)
	event.Assessment.Factors = []string(factors)
	if len(factorScores) > 0 {
		if err := json.Unmarshal(factorScores, &event.Assessment.FactorScores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal factor scores: %w", err)
		}
	}
	return &event, nil
}

// Summary aggregates event counts over the last N days.
func (r *FraudEventRepository) Summary(ctx context.Context, days int) (*models.RiskSummary, error) {
	summary := &models.RiskSummary{
		Days:        days,
		ByRiskLevel: make(map[string]int),
		ByAction:    make(map[string]int),
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT risk_level, action, system_error, COUNT(*)
		FROM fraud_events
		WHERE created_at > NOW() - ($1 || ' days')::interval
		GROUP BY risk_level, action, system_error`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query fraud event summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var riskLevel, action string
		var systemError bool
		var count int
		if err := rows.Scan(&riskLevel, &action, &systemError, &count); err != nil {
			return nil, fmt.Errorf("failed to scan fraud event summary: %w", err)
		}
		summary.TotalEvents += count
		summary.ByRiskLevel[riskLevel] += count
		summary.ByAction[action] += count
		if systemError {
			summary.SystemErrors += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM fraud_events e
		LEFT JOIN fraud_reviews rv ON rv.assessment_id = e.assessment_id
		WHERE e.requires_review AND rv.id IS NULL
		  AND e.created_at > NOW() - ($1 || ' days')::interval`, days).
		Scan(&summary.ReviewsPending)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending reviews: %w", err)
	}

	return summary, nil
}

// TopFactors returns the most frequent risk factor labels over the last N
// days.
func (r *FraudEventRepository) TopFactors(ctx context.Context, days, limit int) ([]models.FactorCount, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT factor, COUNT(*) AS occurrences
		FROM fraud_events, unnest(factors) AS factor
		WHERE created_at > NOW() - ($1 || ' days')::interval
		GROUP BY factor
		ORDER BY occurrences DESC
		LIMIT $2`, days, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top factors: %w", err)
	}
	defer rows.Close()

	var counts []models.FactorCount
	for rows.Next() {
		var fc models.FactorCount
		if err := rows.Scan(&fc.Factor, &fc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan factor count: %w", err)
		}
		counts = append(counts, fc)
	}
	return counts, rows.Err()
}

// HourlyVolume returns per-hour event counts for the last 24 hours.
func (r *FraudEventRepository) HourlyVolume(ctx context.Context) ([]models.HourlyVolume, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT EXTRACT(HOUR FROM created_at)::int AS hour,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE action = 'block'),
		       COUNT(*) FILTER (WHERE requires_review)
		FROM fraud_events
		WHERE created_at > NOW() - INTERVAL '24 hours'
		GROUP BY hour
		ORDER BY hour`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly volume: %w", err)
	}
	defer rows.Close()

	var volumes []models.HourlyVolume
	for rows.Next() {
		var v models.HourlyVolume
		if err := rows.Scan(&v.Hour, &v.Total, &v.Blocked, &v.Flagged); err != nil {
			return nil, fmt.Errorf("failed to scan hourly volume: %w", err)
		}
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}
