package engine

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finshield/fraud-engine/configs"
	"github.com/finshield/fraud-engine/internal/models"
	"github.com/finshield/fraud-engine/internal/signals"
	"github.com/finshield/fraud-engine/internal/velocity"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func testConfig() configs.FraudConfig {
	return configs.FraudConfig{
		DailyTxnCountLimit:     10,
		DailyAmountLimit:       50000,
		SingleTxnCeiling:       10000,
		SmallAmountFloor:       1.00,
		RiskThresholdMedium:    0.2,
		RiskThresholdHigh:      0.5,
		AllowedCountries:       []string{"US", "GB", "DE", "FR"},
		SuspiciousHourStart:    0,
		SuspiciousHourEnd:      5,
		MaxDevicesPerIdentity:  3,
		MaxIdentitiesPerDevice: 3,
		BurstThreshold:         5,
	}
}

func newTestEngine(t *testing.T) (*Engine, *velocity.Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	tracker := velocity.NewTracker(client)
	return NewEngine(testConfig(), tracker), tracker, mr
}

// trustedContext is an established, KYC-verified identity making a modest
// domestic payment at mid-day.
func trustedContext() (*models.TransactionContext, *models.UserContext, *models.DeviceFingerprint) {
	identity := uuid.New()
	at := time.Date(2026, 6, 15, 14, 30, 0, 0, time.UTC)

	tx := &models.TransactionContext{
		IdentityID:       identity,
		Amount:           150.00,
		Currency:         "USD",
		RecipientCountry: "US",
		Timestamp:        at,
	}
	user := &models.UserContext{
		IdentityID:       identity,
		Email:            "holder@example.com",
		KYCVerified:      true,
		AccountCreatedAt: at.AddDate(-1, 0, 0),
	}
	device := signals.NewFingerprint(chromeUA, "203.0.113.10", "en-US", "gzip", "dev-1")
	return tx, user, device
}

func TestAssessTrustedIdentityApproves(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	tx, user, device := trustedContext()

	assessment, err := eng.Assess(context.Background(), tx, user, device)
	require.NoError(t, err)

	assert.Less(t, assessment.Score, 0.2)
	assert.Equal(t, models.RiskLevelLow, assessment.RiskLevel)
	assert.Equal(t, models.ActionApprove, assessment.Action)
	assert.False(t, assessment.RequiresReview)
	assert.False(t, assessment.SystemError)
	assert.Len(t, assessment.FactorScores, 5)
}

func TestAssessHighRiskCombinationBlocks(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	tx, user, device := trustedContext()

	// Hours-old unverified account sending over the ceiling to an
	// unsupported country.
	user.KYCVerified = false
	user.AccountCreatedAt = tx.Timestamp.Add(-2 * time.Hour)
	tx.Amount = 15000
	tx.RecipientCountry = "AE"

	assessment, err := eng.Assess(context.Background(), tx, user, device)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, assessment.Score, 0.5)
	assert.Equal(t, models.RiskLevelHigh, assessment.RiskLevel)
	assert.Equal(t, models.ActionBlock, assessment.Action)
	assert.Contains(t, assessment.Factors, "new account")
	assert.Contains(t, assessment.Factors, "unsupported country")
	assert.Contains(t, assessment.Factors, "large amount: exceeds single transaction ceiling")
}

func TestAssessVelocityLimitFlagsForReview(t *testing.T) {
	eng, tracker, _ := newTestEngine(t)
	tx, user, device := trustedContext()
	ctx := context.Background()

	// Ten transactions already in the daily window; the next one trips the
	// count limit.
	for i := 0; i < 10; i++ {
		require.NoError(t, tracker.Update(ctx, tx.IdentityID, models.WindowDay, 100))
	}

	assessment, err := eng.Assess(ctx, tx, user, device)
	require.NoError(t, err)

	assert.Contains(t, assessment.Factors, "daily transaction count limit exceeded")
	assert.GreaterOrEqual(t, assessment.Score, 0.2)
	assert.Equal(t, models.RiskLevelMedium, assessment.RiskLevel)
	assert.Equal(t, models.ActionReview, assessment.Action)
	assert.True(t, assessment.RequiresReview)
}

func TestAssessFailsClosedWhenStoreUnavailable(t *testing.T) {
	eng, _, mr := newTestEngine(t)
	tx, user, device := trustedContext()

	mr.Close()

	assessment, err := eng.Assess(context.Background(), tx, user, device)
	require.NoError(t, err)

	assert.Equal(t, 1.0, assessment.Score)
	assert.Equal(t, models.RiskLevelHigh, assessment.RiskLevel)
	assert.Equal(t, models.ActionBlock, assessment.Action)
	assert.True(t, assessment.SystemError)
	assert.False(t, assessment.RequiresReview)
	require.Len(t, assessment.Factors, 1)
	assert.Contains(t, assessment.Factors[0], "system error")
}

func TestAssessRecordsVelocity(t *testing.T) {
	eng, tracker, _ := newTestEngine(t)
	tx, user, device := trustedContext()
	ctx := context.Background()

	_, err := eng.Assess(ctx, tx, user, device)
	require.NoError(t, err)

	daily, err := tracker.Snapshot(ctx, tx.IdentityID, models.WindowDay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), daily.Count)
	assert.InDelta(t, tx.Amount, daily.TotalAmount, 0.001)

	hourly, err := tracker.Snapshot(ctx, tx.IdentityID, models.WindowHour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hourly.Count)

	weekly, err := tracker.Snapshot(ctx, tx.IdentityID, models.WindowWeek)
	require.NoError(t, err)
	assert.Equal(t, int64(1), weekly.Count)
	assert.InDelta(t, tx.Amount, weekly.TotalAmount, 0.001)
}

func TestAssessBlockedAttemptsStillCount(t *testing.T) {
	eng, tracker, _ := newTestEngine(t)
	tx, user, device := trustedContext()
	ctx := context.Background()

	user.KYCVerified = false
	user.AccountCreatedAt = tx.Timestamp.Add(-2 * time.Hour)
	tx.Amount = 15000
	tx.RecipientCountry = "AE"

	assessment, err := eng.Assess(ctx, tx, user, device)
	require.NoError(t, err)
	require.Equal(t, models.ActionBlock, assessment.Action)

	daily, err := tracker.Snapshot(ctx, tx.IdentityID, models.WindowDay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), daily.Count)
}

func TestAssessFactorsSorted(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	tx, user, device := trustedContext()

	user.KYCVerified = false
	user.AccountCreatedAt = tx.Timestamp.Add(-2 * time.Hour)
	tx.Amount = 15000
	tx.RecipientCountry = "AE"

	assessment, err := eng.Assess(context.Background(), tx, user, device)
	require.NoError(t, err)
	assert.True(t, sort.StringsAreSorted(assessment.Factors))
}

func TestAssessValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	tx, user, device := trustedContext()

	tests := []struct {
		name   string
		mutate func(*models.TransactionContext, *models.UserContext, *models.DeviceFingerprint) (*models.TransactionContext, *models.UserContext, *models.DeviceFingerprint)
	}{
		{"nil transaction", func(_ *models.TransactionContext, u *models.UserContext, d *models.DeviceFingerprint) (*models.TransactionContext, *models.UserContext, *models.DeviceFingerprint) {
			return nil, u, d
		}},
		{"nil user", func(x *models.TransactionContext, _ *models.UserContext, d *models.DeviceFingerprint) (*models.TransactionContext, *models.UserContext, *models.DeviceFingerprint) {
			return x, nil, d
		}},
		{"nil device", func(x *models.TransactionContext, u *models.UserContext, _ *models.DeviceFingerprint) (*models.TransactionContext, *models.UserContext, *models.DeviceFingerprint) {
			return x, u, nil
		}},
		{"missing identity", func(x *models.TransactionContext, u *models.UserContext, d *models.DeviceFingerprint) (*models.TransactionContext, *models.UserContext, *models.DeviceFingerprint) {
			cp := *x
			cp.IdentityID = uuid.Nil
			return &cp, u, d
		}},
		{"negative amount", func(x *models.TransactionContext, u *models.UserContext, d *models.DeviceFingerprint) (*models.TransactionContext, *models.UserContext, *models.DeviceFingerprint) {
			cp := *x
			cp.Amount = -1
			return &cp, u, d
		}},
		{"missing currency", func(x *models.TransactionContext, u *models.UserContext, d *models.DeviceFingerprint) (*models.TransactionContext, *models.UserContext, *models.DeviceFingerprint) {
			cp := *x
			cp.Currency = ""
			return &cp, u, d
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			badTx, badUser, badDevice := tt.mutate(tx, user, device)
			_, err := eng.Assess(context.Background(), badTx, badUser, badDevice)
			assert.ErrorIs(t, err, ErrInvalidContext)
		})
	}
}

func TestAssessNonMonetaryOperation(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	tx, user, device := trustedContext()

	// Beneficiary additions and document uploads carry no amount.
	tx.Amount = 0
	tx.Currency = ""

	assessment, err := eng.Assess(context.Background(), tx, user, device)
	require.NoError(t, err)
	assert.Equal(t, models.ActionApprove, assessment.Action)
}

func TestDecideIsTotal(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		score      float64
		wantLevel  models.RiskLevel
		wantAction models.Action
	}{
		{0, models.RiskLevelLow, models.ActionApprove},
		{0.1999, models.RiskLevelLow, models.ActionApprove},
		{0.2, models.RiskLevelMedium, models.ActionReview},
		{0.4999, models.RiskLevelMedium, models.ActionReview},
		{0.5, models.RiskLevelHigh, models.ActionBlock},
		{1.0, models.RiskLevelHigh, models.ActionBlock},
	}

	for _, tt := range tests {
		level, action := Decide(tt.score, cfg)
		assert.Equal(t, tt.wantLevel, level, "score %v", tt.score)
		assert.Equal(t, tt.wantAction, action, "score %v", tt.score)
	}
}

func TestAssessScoreAlwaysInRange(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	tx, user, device := trustedContext()

	// Every factor maxed at once.
	user.KYCVerified = false
	user.AccountCreatedAt = tx.Timestamp.Add(-time.Hour)
	tx.Amount = 50000
	tx.RecipientCountry = "KP"
	tx.Timestamp = time.Date(2026, 6, 15, 3, 0, 0, 0, time.UTC)
	user.AccountCreatedAt = tx.Timestamp.Add(-time.Hour)
	device = signals.NewFingerprint("", "127.0.0.1", "", "", "")

	assessment, err := eng.Assess(context.Background(), tx, user, device)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, assessment.Score, 0.0)
	assert.LessOrEqual(t, assessment.Score, 1.0)
	assert.Equal(t, models.ActionBlock, assessment.Action)
}
