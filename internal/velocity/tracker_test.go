package velocity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finshield/fraud-engine/internal/models"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTracker(client), mr
}

func TestUpdateAndSnapshot(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	identity := uuid.New()

	require.NoError(t, tracker.Update(ctx, identity, models.WindowDay, 100.50))
	require.NoError(t, tracker.Update(ctx, identity, models.WindowDay, 49.50))
	require.NoError(t, tracker.Update(ctx, identity, models.WindowDay, 0))

	counter, err := tracker.Snapshot(ctx, identity, models.WindowDay)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counter.Count)
	assert.InDelta(t, 150.0, counter.TotalAmount, 0.001)
	assert.Equal(t, identity, counter.IdentityID)
	assert.Equal(t, models.WindowDay, counter.Window)
}

func TestConcurrentUpdatesLoseNoIncrements(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	identity := uuid.New()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- tracker.Update(ctx, identity, models.WindowDay, 10)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	counter, err := tracker.Snapshot(ctx, identity, models.WindowDay)
	require.NoError(t, err)
	assert.Equal(t, int64(n), counter.Count)
	assert.InDelta(t, float64(n*10), counter.TotalAmount, 0.001)
}

func TestSnapshotEmptyWindow(t *testing.T) {
	tracker, _ := newTestTracker(t)

	counter, err := tracker.Snapshot(context.Background(), uuid.New(), models.WindowHour)
	require.NoError(t, err)
	assert.Zero(t, counter.Count)
	assert.Zero(t, counter.TotalAmount)
	assert.Equal(t, counter.WindowStart.Add(time.Hour), counter.ExpiresAt)
}

func TestSnapshotDoesNotMutate(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	identity := uuid.New()

	require.NoError(t, tracker.Update(ctx, identity, models.WindowHour, 10))

	for i := 0; i < 5; i++ {
		counter, err := tracker.Snapshot(ctx, identity, models.WindowHour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counter.Count)
	}
}

func TestWindowsAreIndependent(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	identity := uuid.New()

	require.NoError(t, tracker.Update(ctx, identity, models.WindowHour, 25))

	hourly, err := tracker.Snapshot(ctx, identity, models.WindowHour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hourly.Count)

	daily, err := tracker.Snapshot(ctx, identity, models.WindowDay)
	require.NoError(t, err)
	assert.Zero(t, daily.Count)
}

func TestIdentitiesAreIsolated(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()
	require.NoError(t, tracker.Update(ctx, first, models.WindowDay, 500))

	counter, err := tracker.Snapshot(ctx, second, models.WindowDay)
	require.NoError(t, err)
	assert.Zero(t, counter.Count)
}

func TestCounterKeyExpiresAtWindowBoundary(t *testing.T) {
	tracker, mr := newTestTracker(t)
	ctx := context.Background()
	identity := uuid.New()

	require.NoError(t, tracker.Update(ctx, identity, models.WindowHour, 10))

	start := WindowStart(time.Now(), models.WindowHour)
	key := counterKey(identity, models.WindowHour, start)
	assert.True(t, mr.Exists(key))

	mr.FastForward(time.Hour + time.Second)
	assert.False(t, mr.Exists(key))
}

func TestWindowStartTruncation(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	hourStart := WindowStart(at, models.WindowHour)
	assert.Equal(t, time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC), hourStart)

	dayStart := WindowStart(at, models.WindowDay)
	assert.Zero(t, dayStart.Hour())
	assert.Zero(t, dayStart.Minute())
}

func TestTouchDeviceCorrelation(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()

	identities, devices, err := tracker.TouchDevice(ctx, alice, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), identities)
	assert.Equal(t, int64(1), devices)

	// Second identity on the same fingerprint.
	identities, devices, err = tracker.TouchDevice(ctx, bob, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), identities)
	assert.Equal(t, int64(1), devices)

	// First identity moves to a second device.
	identities, devices, err = tracker.TouchDevice(ctx, alice, "fp-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), identities)
	assert.Equal(t, int64(2), devices)
}

func TestTouchDeviceIdempotent(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	identity := uuid.New()

	for i := 0; i < 3; i++ {
		identities, devices, err := tracker.TouchDevice(ctx, identity, "fp-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), identities)
		assert.Equal(t, int64(1), devices)
	}
}

func TestSnapshotFailsWhenStoreDown(t *testing.T) {
	tracker, mr := newTestTracker(t)
	mr.Close()

	_, err := tracker.Snapshot(context.Background(), uuid.New(), models.WindowDay)
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewRateLimiter(client, time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, "identity-1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "identity-1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)

	// Other scopes are unaffected.
	allowed, _, err = limiter.Allow(ctx, "identity-2")
	require.NoError(t, err)
	assert.True(t, allowed)
}
