package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finshield/fraud-engine/internal/models"
)

// stubRow replays a row of column values into scan destinations, the way a
// database row would.
type stubRow struct {
	values []interface{}
}

func (r stubRow) Scan(dest ...interface{}) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan expected %d destinations, got %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		switch v := r.values[i].(type) {
		case uuid.UUID:
			*d.(*uuid.UUID) = v
		case float64:
			*d.(*float64) = v
		case string:
			*d.(*string) = v
		case bool:
			*d.(*bool) = v
		case time.Time:
			*d.(*time.Time) = v
		case []byte:
			*d.(*[]byte) = v
		case *pq.StringArray:
			*d.(*pq.StringArray) = *v
		default:
			return fmt.Errorf("column %d: unhandled type %T", i, v)
		}
	}
	return nil
}

func TestInsertArgsScanEventRoundTrip(t *testing.T) {
	assessedAt := time.Date(2026, 6, 15, 14, 30, 0, 0, time.UTC)
	recordedAt := assessedAt.Add(50 * time.Millisecond)

	event := &models.FraudEvent{
		ID: uuid.New(),
		Assessment: models.RiskAssessment{
			ID:         uuid.New(),
			IdentityID: uuid.New(),
			FactorScores: map[string]float64{
				"amount":     0.7,
				"geographic": 0.7,
			},
			Score:          0.245,
			RiskLevel:      models.RiskLevelMedium,
			Action:         models.ActionReview,
			Factors:        []string{"amount approaching single transaction ceiling", "unsupported country"},
			RequiresReview: true,
			CreatedAt:      assessedAt,
		},
		Path:      "/api/v1/payments",
		Method:    "POST",
		MaskedIP:  "203.0.113.0",
		UserAgent: "test-agent",
		RequestID: "req-1",
		EventType: models.EventTypeAssessment,
		CreatedAt: recordedAt,
	}

	args, err := insertArgs(event)
	require.NoError(t, err)

	got, err := scanEvent(stubRow{values: args})
	require.NoError(t, err)

	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, event.Assessment.ID, got.Assessment.ID)
	assert.Equal(t, event.Assessment.IdentityID, got.Assessment.IdentityID)
	assert.Equal(t, event.Assessment.Score, got.Assessment.Score)
	assert.Equal(t, event.Assessment.RiskLevel, got.Assessment.RiskLevel)
	assert.Equal(t, event.Assessment.Action, got.Assessment.Action)
	assert.Equal(t, event.Assessment.Factors, got.Assessment.Factors)
	assert.Equal(t, event.Assessment.FactorScores, got.Assessment.FactorScores)
	assert.Equal(t, event.Assessment.RequiresReview, got.Assessment.RequiresReview)
	assert.Equal(t, event.EventType, got.EventType)
	assert.Equal(t, event.Path, got.Path)
	assert.Equal(t, event.MaskedIP, got.MaskedIP)

	// The assessment keeps its own timestamp; recording time is separate.
	assert.Equal(t, assessedAt, got.Assessment.CreatedAt)
	assert.Equal(t, recordedAt, got.CreatedAt)
}
