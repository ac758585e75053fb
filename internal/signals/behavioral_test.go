package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finshield/fraud-engine/internal/models"
)

func behavioralInput(accountAge time.Duration, txHour int, kycVerified bool) *Input {
	at := time.Date(2026, 6, 15, txHour, 30, 0, 0, time.UTC)
	return &Input{
		Tx: &models.TransactionContext{Timestamp: at},
		User: &models.UserContext{
			KYCVerified:      kycVerified,
			AccountCreatedAt: at.Add(-accountAge),
		},
	}
}

func TestBehavioralExtractor(t *testing.T) {
	extractor := NewBehavioralExtractor(testFraudConfig())

	tests := []struct {
		name       string
		in         *Input
		wantScore  float64
		wantFactor string
	}{
		{"established account", behavioralInput(365*24*time.Hour, 14, false), 0, ""},
		{"new account", behavioralInput(2*time.Hour, 14, false), 1.0, "new account"},
		{"account under a week", behavioralInput(3*24*time.Hour, 14, false), 0.6, "account under a week old"},
		{"account under a month", behavioralInput(20*24*time.Hour, 14, false), 0.35, "account under a month old"},
		{"account under ninety days", behavioralInput(60*24*time.Hour, 14, false), 0.15, ""},
		{"unusual hour", behavioralInput(365*24*time.Hour, 3, false), 0.3, "unusual hour"},
		{"boundary hour is not suspicious", behavioralInput(365*24*time.Hour, 5, false), 0, ""},
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

func TestSuspiciousWindowWrapsMidnight(t *testing.T) {
	cfg := testFraudConfig()
	cfg.SuspiciousHourStart = 22
	cfg.SuspiciousHourEnd = 5
	extractor := NewBehavioralExtractor(cfg)

	tests := []struct {
		name       string
		txHour     int
		suspicious bool
	}{
		{"before window", 21, false},
		{"start of window", 22, true},
		{"past midnight", 3, true},
		{"end of window", 5, false},
		{"mid-day", 14, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := extractor.Evaluate(behavioralInput(365*24*time.Hour, tt.txHour, false))
			require.NoError(t, err)
			if tt.suspicious {
				assert.Contains(t, sig.Factors, "unusual hour")
			} else {
				assert.NotContains(t, sig.Factors, "unusual hour")
			}
		})
	}
}

func TestKYCVerificationHalvesScore(t *testing.T) {
	extractor := NewBehavioralExtractor(testFraudConfig())

	unverified, err := extractor.Evaluate(behavioralInput(2*time.Hour, 14, false))
	require.NoError(t, err)
	verified, err := extractor.Evaluate(behavioralInput(2*time.Hour, 14, true))
	require.NoError(t, err)

	assert.Equal(t, 1.0, unverified.Score)
	assert.InDelta(t, 0.5, verified.Score, 0.001)
}

func TestBehavioralUsesTransactionTimestamp(t *testing.T) {
	extractor := NewBehavioralExtractor(testFraudConfig())

	// Account age is measured at the transaction timestamp, not wall clock,
	// so identical inputs always score identically.
	first, err := extractor.Evaluate(behavioralInput(2*time.Hour, 3, false))
	require.NoError(t, err)
	second, err := extractor.Evaluate(behavioralInput(2*time.Hour, 3, false))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
