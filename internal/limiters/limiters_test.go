package limiters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestLockoutAfterThreshold(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewLockout(rdb, LockoutConfig{Enabled: true})
	ctx := context.Background()

	for i := 1; i < 5; i++ {
		locked, err := l.RecordFailure(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, locked, "attempt %d", i)
	}
	locked, err := l.RecordFailure(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, locked)

	isLocked, err := l.IsLocked(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, isLocked)

	other, err := l.IsLocked(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, other)
}

func TestLockoutLastsFullDurationFromTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewLockout(rdb, LockoutConfig{Enabled: true, Threshold: 2, Duration: 15 * time.Minute})
	ctx := context.Background()

	_, err := l.RecordFailure(ctx, "u1")
	require.NoError(t, err)
	mr.FastForward(10 * time.Minute)
	locked, err := l.RecordFailure(ctx, "u1")
	require.NoError(t, err)
	require.True(t, locked)

	mr.FastForward(10 * time.Minute)
	isLocked, err := l.IsLocked(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, isLocked)

	mr.FastForward(6 * time.Minute)
	isLocked, err = l.IsLocked(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, isLocked)
}

func TestLockoutReset(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewLockout(rdb, LockoutConfig{Enabled: true, Threshold: 1})
	ctx := context.Background()

	_, err := l.RecordFailure(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, l.Reset(ctx, "u1"))

	n, err := l.FailureCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLockoutDisabled(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewLockout(rdb, LockoutConfig{Enabled: false, Threshold: 1})
	ctx := context.Background()

	locked, err := l.RecordFailure(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, locked)

	var nilLockout *Lockout
	isLocked, err := nilLockout.IsLocked(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, isLocked)
}

func TestAttemptsBudget(t *testing.T) {
	mr, rdb := newTestRedis(t)
	a := NewAttempts(rdb, AttemptsConfig{Prefix: "bk", Max: 2, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, a.Check(ctx, "u1"))
	require.NoError(t, a.Record(ctx, "u1"))
	require.NoError(t, a.Record(ctx, "u1"))
	assert.ErrorIs(t, a.Check(ctx, "u1"), ErrTooManyAttempts)
	assert.ErrorIs(t, a.Record(ctx, "u1"), ErrTooManyAttempts)
	assert.NoError(t, a.Check(ctx, "u2"))

	mr.FastForward(time.Minute + time.Second)
	assert.NoError(t, a.Check(ctx, "u1"))
}

func TestAttemptsReset(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := NewAttempts(rdb, AttemptsConfig{Prefix: "tp", Max: 1, Window: time.Minute})
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, "u1"))
	require.ErrorIs(t, a.Check(ctx, "u1"), ErrTooManyAttempts)
	require.NoError(t, a.Reset(ctx, "u1"))
	assert.NoError(t, a.Check(ctx, "u1"))
}

func TestAttemptsUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	a := NewAttempts(rdb, AttemptsConfig{Prefix: "bk", Max: 2})
	mr.Close()

	assert.ErrorIs(t, a.Record(context.Background(), "u1"), ErrAttemptsUnavailable)
}
