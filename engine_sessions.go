package azauth

import (
	"context"
	"time"
)

// ListSessions returns the user's live sessions, oldest first. The session
// named currentSessionID is flagged as Current.
func (e *Engine) ListSessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	records, err := e.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	out := make([]SessionInfo, 0, len(records))
	for _, r := range records {
		out = append(out, SessionInfo{
			ID:         r.ID,
			CreatedAt:  r.CreatedAt,
			LastUsedAt: r.LastUsedAt,
			ExpiresAt:  r.ExpiresAt,
			Client:     r.Metadata,
			Current:    r.ID == currentSessionID,
		})
	}
	return out, nil
}

// TouchSession records activity. It never moves the expiry.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return mapSessionError(e.sessions.Touch(ctx, sessionID))
}

// ExtendSession pushes the expiry of one of userID's sessions to now+ttl,
// capped at Session.MaxExtend. Refresh honours the extended expiry even after
// the refresh token's own exp has passed.
func (e *Engine) ExtendSession(ctx context.Context, userID, sessionID string, ttl time.Duration) (time.Time, error) {
	if e == nil {
		return time.Time{}, ErrEngineNotReady
	}
	if ttl <= 0 {
		return time.Time{}, ErrInvalidRequest
	}
	if max := e.config.Session.MaxExtend; max > 0 && ttl > max {
		ttl = max
	}
	if _, err := e.ownedSession(ctx, userID, sessionID); err != nil {
		return time.Time{}, err
	}
	exp, err := e.sessions.Extend(ctx, sessionID, ttl)
	if err != nil {
		return time.Time{}, mapSessionError(err)
	}
	return exp, nil
}

// RevokeSession removes one of userID's sessions. Sessions of other users
// are reported as not found.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if _, err := e.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return mapSessionError(err)
	}
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditLogoutSession, true, userID, sessionID, nil, nil)
	return nil
}

func (e *Engine) ownedSession(ctx context.Context, userID, sessionID string) (*SessionRecord, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	rec, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSessionError(err)
	}
	if rec.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return rec, nil
}
