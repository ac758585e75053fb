// Package engine aggregates the five risk signals into a single assessment
// and maps it to a decision. Any failure while gathering shared state or
// extracting a signal fails closed: the operation is blocked with a distinct
// system-error factor rather than approved on missing information.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/configs"
	"github.com/finshield/fraud-engine/internal/models"
	"github.com/finshield/fraud-engine/internal/signals"
	"github.com/finshield/fraud-engine/internal/velocity"
)

// ErrInvalidContext reports a malformed screening context. It surfaces to
// the caller; everything else fails closed.
var ErrInvalidContext = errors.New("invalid screening context")

// Signal weights. They sum to 1.0 so the aggregate stays in [0,1] whenever
// every signal does.
var signalWeights = map[string]float64{
	signals.SignalAmount:     0.20,
	signals.SignalFrequency:  0.25,
	signals.SignalGeographic: 0.15,
	signals.SignalDevice:     0.20,
	signals.SignalBehavioral: 0.20,
}

// Engine computes risk assessments for screened operations.
type Engine struct {
	cfg        configs.FraudConfig
	tracker    *velocity.Tracker
	extractors []signals.Extractor
}

// NewEngine creates an engine with the five standard extractors.
func NewEngine(cfg configs.FraudConfig, tracker *velocity.Tracker) *Engine {
	return &Engine{
		cfg:     cfg,
		tracker: tracker,
		extractors: []signals.Extractor{
			signals.NewAmountExtractor(cfg),
			signals.NewFrequencyExtractor(cfg),
			signals.NewGeographicExtractor(cfg),
			signals.NewDeviceExtractor(cfg),
			signals.NewBehavioralExtractor(cfg),
		},
	}
}

// Decide maps an aggregate score to its risk level and action. The mapping
// is total: every score lands in exactly one of the three bands.
func Decide(score float64, cfg configs.FraudConfig) (models.RiskLevel, models.Action) {
	switch {
	case score >= cfg.RiskThresholdHigh:
		return models.RiskLevelHigh, models.ActionBlock
	case score >= cfg.RiskThresholdMedium:
		return models.RiskLevelMedium, models.ActionReview
	default:
		return models.RiskLevelLow, models.ActionApprove
	}
}

// Assess screens one operation. It suspends only on the velocity store;
// extraction itself is pure. A non-nil error is returned only for a
// malformed context; internal failures produce a fail-closed BLOCK
// assessment instead.
func (e *Engine) Assess(ctx context.Context, tx *models.TransactionContext, user *models.UserContext, device *models.DeviceFingerprint) (*models.RiskAssessment, error) {
	if err := validate(tx, user, device); err != nil {
		return nil, err
	}

	in := &signals.Input{Tx: tx, User: user, Device: device}

	// Gather shared-state snapshots. Velocity-store errors are treated
	// exactly like extractor failures.
	var err error
	if in.Daily, err = e.tracker.Snapshot(ctx, tx.IdentityID, models.WindowDay); err != nil {
		return e.failClosed(tx, "system error: velocity store unavailable", err), nil
	}
	if in.Hourly, err = e.tracker.Snapshot(ctx, tx.IdentityID, models.WindowHour); err != nil {
		return e.failClosed(tx, "system error: velocity store unavailable", err), nil
	}
	if in.IdentitiesOnDevice, in.DevicesForIdentity, err = e.tracker.TouchDevice(ctx, tx.IdentityID, device.Hash); err != nil {
		return e.failClosed(tx, "system error: device correlation unavailable", err), nil
	}

	factorScores := make(map[string]float64, len(e.extractors))
	var factors []string
	var score float64

	for _, extractor := range e.extractors {
		sig, err := extractor.Evaluate(in)
		if err != nil {
			return e.failClosed(tx, fmt.Sprintf("system error: %s signal failed", extractor.Name()), err), nil
		}
		factorScores[extractor.Name()] = sig.Score
		factors = append(factors, sig.Factors...)
		score += signalWeights[extractor.Name()] * sig.Score
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	riskLevel, action := Decide(score, e.cfg)
	sort.Strings(factors)

	assessment := &models.RiskAssessment{
		ID:             uuid.New(),
		IdentityID:     tx.IdentityID,
		FactorScores:   factorScores,
		Score:          score,
		RiskLevel:      riskLevel,
		Action:         action,
		Factors:        factors,
		RequiresReview: action == models.ActionReview,
		CreatedAt:      time.Now(),
	}

	// Count the attempt against the identity's windows regardless of the
	// decision. A failure here must not undo a decision already made.
	e.recordVelocity(ctx, tx)

	log.Info().
		Str("assessment_id", assessment.ID.String()).
		Str("identity_id", tx.IdentityID.String()).
		Float64("score", score).
		Str("risk_level", string(riskLevel)).
		Str("action", string(action)).
		Strs("factors", factors).
		Msg("Operation assessed")

	return assessment, nil
}

func validate(tx *models.TransactionContext, user *models.UserContext, device *models.DeviceFingerprint) error {
	switch {
	case tx == nil:
		return fmt.Errorf("%w: missing transaction context", ErrInvalidContext)
	case user == nil:
		return fmt.Errorf("%w: missing user context", ErrInvalidContext)
	case device == nil:
		return fmt.Errorf("%w: missing device fingerprint", ErrInvalidContext)
	case tx.IdentityID == uuid.Nil:
		return fmt.Errorf("%w: missing identity", ErrInvalidContext)
	case tx.Amount < 0:
		return fmt.Errorf("%w: negative amount", ErrInvalidContext)
	case tx.Amount > 0 && tx.Currency == "":
		return fmt.Errorf("%w: missing currency", ErrInvalidContext)
	}
	return nil
}

func (e *Engine) recordVelocity(ctx context.Context, tx *models.TransactionContext) {
	for _, window := range []models.VelocityWindow{models.WindowHour, models.WindowDay, models.WindowWeek} {
		if err := e.tracker.Update(ctx, tx.IdentityID, window, tx.Amount); err != nil {
			log.Warn().Err(err).
				Str("identity_id", tx.IdentityID.String()).
				Str("window", string(window)).
				Msg("Failed to record velocity")
		}
	}
}

// failClosed produces the HIGH/BLOCK assessment used when an internal
// failure prevents a real decision. It is logged as a system error, not a
// fraud detection, so operators can tell outages from attacks.
func (e *Engine) failClosed(tx *models.TransactionContext, factor string, cause error) *models.RiskAssessment {
	log.Error().Err(cause).
		Str("identity_id", tx.IdentityID.String()).
		Str("factor", factor).
		Msg("Risk assessment failed closed")

	return &models.RiskAssessment{
		ID:          uuid.New(),
		IdentityID:  tx.IdentityID,
		Score:       1.0,
		RiskLevel:   models.RiskLevelHigh,
		Action:      models.ActionBlock,
		Factors:     []string{factor},
		SystemError: true,
		CreatedAt:   time.Now(),
	}
}
