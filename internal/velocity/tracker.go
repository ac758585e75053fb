// Package velocity maintains per-identity rolling counters in Redis.
//
// Counters are fixed-window: each key is scoped to the current window bucket
// and expires at the window boundary, so expiry is handled entirely by the
// store's TTL mechanism. All mutations go through HINCRBY/HINCRBYFLOAT so
// concurrent callers for the same identity never lose updates, and multiple
// service instances see consistent state.
//
// Trade-off: if Redis loses its state, all velocities reset to zero. That is
// fail-open for the frequency axis only; every other signal is unaffected.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/finshield/fraud-engine/internal/models"
)

const (
	fieldCount  = "count"
	fieldAmount = "amount"

	// deviceCorrelationTTL bounds how long device/identity association sets
	// are kept.
	deviceCorrelationTTL = 7 * 24 * time.Hour
)

// Tracker maintains rolling velocity counters and device-correlation sets.
type Tracker struct {
	client *redis.Client
}

// NewTracker creates a tracker on an existing Redis connection.
func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// WindowStart returns the start of the window bucket containing now.
func WindowStart(now time.Time, window models.VelocityWindow) time.Time {
	return now.UTC().Truncate(window.Duration())
}

func counterKey(identity uuid.UUID, window models.VelocityWindow, start time.Time) string {
	return fmt.Sprintf("velocity:%s:%s:%d", identity, window, start.Unix())
}

// Update atomically increments the count and cumulative amount for the
// identity's current window. The key expires at the window boundary; setting
// the deadline on every update is idempotent because the deadline is a
// property of the bucket, not of the call.
func (t *Tracker) Update(ctx context.Context, identity uuid.UUID, window models.VelocityWindow, amount float64) error {
	now := time.Now()
	start := WindowStart(now, window)
	key := counterKey(identity, window, start)
	expiresAt := start.Add(window.Duration())

	pipe := t.client.TxPipeline()
	pipe.HIncrBy(ctx, key, fieldCount, 1)
	pipe.HIncrByFloat(ctx, key, fieldAmount, amount)
	pipe.ExpireAt(ctx, key, expiresAt)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update velocity counter: %w", err)
	}
	return nil
}

// Snapshot reads the identity's counter for the current window without
// mutating it. A window with no activity yields a zero counter.
func (t *Tracker) Snapshot(ctx context.Context, identity uuid.UUID, window models.VelocityWindow) (models.VelocityCounter, error) {
	now := time.Now()
	start := WindowStart(now, window)

	counter := models.VelocityCounter{
		IdentityID:  identity,
		Window:      window,
		WindowStart: start,
		ExpiresAt:   start.Add(window.Duration()),
	}

	fields, err := t.client.HGetAll(ctx, counterKey(identity, window, start)).Result()
	if err != nil {
		return counter, fmt.Errorf("failed to read velocity counter: %w", err)
	}

	if raw, ok := fields[fieldCount]; ok {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			counter.Count = n
		}
	}
	if raw, ok := fields[fieldAmount]; ok {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			counter.TotalAmount = f
		}
	}

	return counter, nil
}

// TouchDevice records the identity↔fingerprint association and returns how
// many distinct identities share the fingerprint and how many distinct
// fingerprints the identity has used.
func (t *Tracker) TouchDevice(ctx context.Context, identity uuid.UUID, fingerprintHash string) (identitiesOnDevice, devicesForIdentity int64, err error) {
	deviceKey := fmt.Sprintf("device:%s:identities", fingerprintHash)
	identityKey := fmt.Sprintf("identity:%s:devices", identity)

	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, deviceKey, identity.String())
	pipe.Expire(ctx, deviceKey, deviceCorrelationTTL)
	pipe.SAdd(ctx, identityKey, fingerprintHash)
	pipe.Expire(ctx, identityKey, deviceCorrelationTTL)
	deviceCard := pipe.SCard(ctx, deviceKey)
	identityCard := pipe.SCard(ctx, identityKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to update device correlation: %w", err)
	}

	return deviceCard.Val(), identityCard.Val(), nil
}

// HealthCheck pings the backing store.
func (t *Tracker) HealthCheck(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
