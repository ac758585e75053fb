package signals

import (
	"github.com/finshield/fraud-engine/configs"
)

// FrequencyExtractor scores transaction velocity against the configured
// daily count and amount limits, counting the operation being screened on
// top of the window snapshot.
type FrequencyExtractor struct {
	dailyCountLimit  int64
	dailyAmountLimit float64
	burstThreshold   int64
}

// NewFrequencyExtractor creates the frequency signal extractor.
func NewFrequencyExtractor(cfg configs.FraudConfig) *FrequencyExtractor {
	return &FrequencyExtractor{
		dailyCountLimit:  int64(cfg.DailyTxnCountLimit),
		dailyAmountLimit: cfg.DailyAmountLimit,
		burstThreshold:   int64(cfg.BurstThreshold),
	}
}

func (e *FrequencyExtractor) Name() string { return SignalFrequency }

func (e *FrequencyExtractor) Evaluate(in *Input) (Signal, error) {
	var sig Signal

	count := in.Daily.Count + 1
	amount := in.Daily.TotalAmount + in.Tx.Amount

	countRatio := float64(count) / float64(e.dailyCountLimit)
	amountRatio := amount / e.dailyAmountLimit

	ratio := countRatio
	if amountRatio > ratio {
		ratio = amountRatio
	}

	switch {
	case ratio >= 1.0:
		sig.Score = 1.0
		if countRatio >= 1.0 {
			sig.Factors = append(sig.Factors, "daily transaction count limit exceeded")
		}
		if amountRatio >= 1.0 {
			sig.Factors = append(sig.Factors, "daily amount limit exceeded")
		}
	case ratio >= 0.8:
		sig.Score = 0.6
		sig.Factors = append(sig.Factors, "approaching daily limit")
	case ratio >= 0.5:
		sig.Score = 0.3
		sig.Factors = append(sig.Factors, "elevated daily velocity")
	}

	// Burst: too many operations inside the hourly sub-window.
	if in.Hourly.Count+1 >= e.burstThreshold {
		sig.Score += 0.3
		sig.Factors = append(sig.Factors, "transaction burst")
	}

	sig.Score = clamp01(sig.Score)
	return sig, nil
}
