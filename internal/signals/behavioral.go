package signals

import (
	"time"

	"github.com/finshield/fraud-engine/configs"
)

// BehavioralExtractor scores account-level behavior: risk decays with
// account age, rises inside the configured suspicious local-time window,
// and is discounted for KYC-verified identities.
type BehavioralExtractor struct {
	suspiciousStart int
	suspiciousEnd   int
}

// NewBehavioralExtractor creates the behavioral signal extractor.
func NewBehavioralExtractor(cfg configs.FraudConfig) *BehavioralExtractor {
	return &BehavioralExtractor{
		suspiciousStart: cfg.SuspiciousHourStart,
		suspiciousEnd:   cfg.SuspiciousHourEnd,
	}
}

func (e *BehavioralExtractor) Name() string { return SignalBehavioral }

func (e *BehavioralExtractor) Evaluate(in *Input) (Signal, error) {
	var sig Signal

	age := in.User.AccountAge(in.Tx.Timestamp)
	switch {
	case age < 24*time.Hour:
		sig.Score = 1.0
		sig.Factors = append(sig.Factors, "new account")
	case age < 7*24*time.Hour:
		sig.Score = 0.6
		sig.Factors = append(sig.Factors, "account under a week old")
	case age < 30*24*time.Hour:
		sig.Score = 0.35
		sig.Factors = append(sig.Factors, "account under a month old")
	case age < 90*24*time.Hour:
		sig.Score = 0.15
	}

	if e.suspiciousHour(in.Tx.Timestamp.Hour()) {
		sig.Score += 0.3
		sig.Factors = append(sig.Factors, "unusual hour")
	}

	// Verified identities earn a discount on the whole behavioral signal.
	if in.User.KYCVerified {
		sig.Score *= 0.5
	}

	sig.Score = clamp01(sig.Score)
	return sig, nil
}

// suspiciousHour reports whether the hour falls inside [start, end). A start
// past the end wraps across midnight, e.g. 22..5.
func (e *BehavioralExtractor) suspiciousHour(hour int) bool {
	if e.suspiciousStart <= e.suspiciousEnd {
		return hour >= e.suspiciousStart && hour < e.suspiciousEnd
	}
	return hour >= e.suspiciousStart || hour < e.suspiciousEnd
}
