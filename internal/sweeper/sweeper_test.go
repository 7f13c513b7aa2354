package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingTarget struct {
	calls atomic.Int32
	err   error
}

func (c *countingTarget) SweepSessions(context.Context) (int, error) {
	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return 2, nil
}

func TestRunOnceRecordsStats(t *testing.T) {
	target := &countingTarget{}
	s := New(target, Config{Interval: time.Minute}, nil)

	assert.Equal(t, 2, s.RunOnce(context.Background()))
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(2), stats.Pruned)
	assert.Empty(t, stats.LastError)
	assert.False(t, stats.Running)
}

func TestRunOnceLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	target := &countingTarget{err: errors.New("redis down")}
	s := New(target, Config{Interval: time.Minute}, zap.New(core))

	s.RunOnce(context.Background())
	assert.Equal(t, "redis down", s.Stats().LastError)
	require.Equal(t, 1, logs.FilterMessage("session sweep failed").Len())
}

func TestStartSweepsImmediatelyAndStops(t *testing.T) {
	target := &countingTarget{}
	s := New(target, Config{Interval: 10 * time.Millisecond}, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return target.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	calls := target.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, target.calls.Load())
	assert.False(t, s.Stats().Running)
}

func TestStartRejectsZeroInterval(t *testing.T) {
	s := New(&countingTarget{}, Config{}, nil)
	assert.Error(t, s.Start(context.Background()))
}
