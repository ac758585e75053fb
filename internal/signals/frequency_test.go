package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finshield/fraud-engine/internal/models"
)

func frequencyInput(dailyCount int64, dailyAmount, txAmount float64, hourlyCount int64) *Input {
	return &Input{
		Tx:     &models.TransactionContext{Amount: txAmount},
		Daily:  models.VelocityCounter{Count: dailyCount, TotalAmount: dailyAmount},
		Hourly: models.VelocityCounter{Count: hourlyCount},
	}
}

func TestFrequencyExtractor(t *testing.T) {
	extractor := NewFrequencyExtractor(testFraudConfig())

	tests := []struct {
		name       string
		in         *Input
		wantScore  float64
		wantFactor string
	}{
		{"first transaction of the day", frequencyInput(0, 0, 100, 0), 0, ""},
		{"elevated daily velocity", frequencyInput(4, 0, 100, 0), 0.3, "elevated daily velocity"},
		{"approaching daily limit", frequencyInput(7, 0, 100, 0), 0.6, "approaching daily limit"},
		{"count limit reached", frequencyInput(9, 0, 100, 0), 1.0, "daily transaction count limit exceeded"},
		{"count limit exceeded", frequencyInput(10, 0, 100, 0), 1.0, "daily transaction count limit exceeded"},
		{"amount limit exceeded", frequencyInput(1, 45000, 6000, 0), 1.0, "daily amount limit exceeded"},
		{"amount approaching limit", frequencyInput(1, 39000, 2000, 0), 0.6, "approaching daily limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := extractor.Evaluate(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantScore, sig.Score, 0.001)
			if tt.wantFactor != "" {
				assert.Contains(t, sig.Factors, tt.wantFactor)
			} else {
				assert.Empty(t, sig.Factors)
			}
		})
	}
}

func TestFrequencyExtractorCountsCurrentOperation(t *testing.T) {
	extractor := NewFrequencyExtractor(testFraudConfig())

	// Nine prior transactions plus the one being screened hits the limit of
	// ten exactly.
	sig, err := extractor.Evaluate(frequencyInput(9, 0, 50, 0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, sig.Score)
}

func TestFrequencyExtractorBurst(t *testing.T) {
	extractor := NewFrequencyExtractor(testFraudConfig())

	sig, err := extractor.Evaluate(frequencyInput(4, 0, 100, 4))
	require.NoError(t, err)
	assert.InDelta(t, 0.6, sig.Score, 0.001)
	assert.Contains(t, sig.Factors, "transaction burst")
	assert.Contains(t, sig.Factors, "elevated daily velocity")
}
