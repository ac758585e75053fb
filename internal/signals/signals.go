// Package signals implements the five risk signal extractors. Each extractor
// is a pure function of the screening input: all shared state (velocity
// counters, device correlation) is read beforehand and passed in as a
// snapshot, so extraction itself performs no I/O.
package signals

import (
	"github.com/finshield/fraud-engine/internal/models"
)

// Extractor names, used as factor-score keys and aggregation weights.
const (
	SignalAmount     = "amount"
	SignalFrequency  = "frequency"
	SignalGeographic = "geographic"
	SignalDevice     = "device"
	SignalBehavioral = "behavioral"
)

// Input bundles the per-request context with pre-fetched shared-state
// snapshots.
type Input struct {
	Tx     *models.TransactionContext
	User   *models.UserContext
	Device *models.DeviceFingerprint

	// Velocity snapshots for the identity, taken before extraction. They do
	// not include the operation currently being screened.
	Daily  models.VelocityCounter
	Hourly models.VelocityCounter

	// Device correlation counts, including the current request.
	IdentitiesOnDevice int64
	DevicesForIdentity int64
}

// Signal is one extractor's contribution: a score in [0,1] and the
// human-readable factor labels explaining it.
type Signal struct {
	Score   float64
	Factors []string
}

// Extractor produces a risk signal from a screening input.
type Extractor interface {
	Name() string
	Evaluate(in *Input) (Signal, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
