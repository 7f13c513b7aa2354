package azauth

import (
	"context"
	"strings"
)

// Health pings Redis and the credential store.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil {
		return HealthStatus{}
	}
	var status HealthStatus
	latency, err := e.sessions.Ping(ctx)
	status.RedisLatency = latency
	status.RedisOK = err == nil
	status.StoreOK = e.users.Ping(ctx) == nil
	return status
}

// ActiveSessionCount returns the number of live sessions of userID.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.Count(ctx, userID)
	return n, mapSessionError(err)
}

// LoginFailures returns the failed attempts counted against identifier in
// the current throttle window.
func (e *Engine) LoginFailures(ctx context.Context, identifier string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.throttle.LoginFailures(ctx, strings.TrimSpace(identifier))
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// SweepSessions drops index entries whose session records are gone. It is
// only housekeeping; reads already ignore dead entries.
func (e *Engine) SweepSessions(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.Sweep(ctx)
	return n, mapSessionError(err)
}
