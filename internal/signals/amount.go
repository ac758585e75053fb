package signals

import (
	"math"

	"github.com/finshield/fraud-engine/configs"
)

// AmountExtractor scores the transaction amount against the configured
// single-transaction ceiling. The ceiling boundary is exclusive: an amount
// equal to the ceiling is at-ceiling, not over it.
type AmountExtractor struct {
	ceiling    float64
	smallFloor float64
}

// NewAmountExtractor creates the amount signal extractor.
func NewAmountExtractor(cfg configs.FraudConfig) *AmountExtractor {
	return &AmountExtractor{
		ceiling:    cfg.SingleTxnCeiling,
		smallFloor: cfg.SmallAmountFloor,
	}
}

func (e *AmountExtractor) Name() string { return SignalAmount }

func (e *AmountExtractor) Evaluate(in *Input) (Signal, error) {
	var sig Signal
	amount := in.Tx.Amount

	// Zero amounts belong to non-monetary operations and carry no amount
	// signal.
	if amount == 0 {
		return sig, nil
	}

	ratio := amount / e.ceiling
	switch {
	case amount > e.ceiling:
		sig.Score = 1.0
		sig.Factors = append(sig.Factors, "large amount: exceeds single transaction ceiling")
	case ratio >= 0.8:
		sig.Score = 0.7
		sig.Factors = append(sig.Factors, "amount approaching single transaction ceiling")
	case ratio >= 0.5:
		sig.Score = 0.4
		sig.Factors = append(sig.Factors, "elevated amount")
	}

	// Exact multiples of round numbers are a mild structuring tell.
	if amount >= 1000 && math.Mod(amount, 1000) == 0 {
		sig.Score += 0.1
		sig.Factors = append(sig.Factors, "round amount")
	}

	if amount > 0 && amount < e.smallFloor {
		sig.Score += 0.2
		sig.Factors = append(sig.Factors, "unusually small amount")
	}

	sig.Score = clamp01(sig.Score)
	return sig, nil
}
