package azauth

import (
	"context"
	"errors"
	"time"

	"github.com/azora-os/azauth/internal"
	"github.com/azora-os/azauth/jwt"
)

// Validate verifies an access token and rejects revoked ones. With
// Security.StrictValidation the token's session must also still exist.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	claims, err := e.validate(ctx, accessToken)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil && KindOf(err) == KindAuthentication {
		e.metricInc(MetricValidateRejected)
	}
	return claims, err
}

func (e *Engine) validate(ctx context.Context, accessToken string) (*AccessClaims, error) {
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	revoked, err := e.denylist.Contains(ctx, internal.HashTokenHex(accessToken))
	if err != nil {
		return nil, unavailable(err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	if e.config.Security.StrictValidation {
		if _, err := e.ownedSession(ctx, claims.UserID, claims.SessionID); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

// RevokeAccessToken denylists token until its own expiry. The token is
// decoded without verification; already expired tokens are a no-op.
func (e *Engine) RevokeAccessToken(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	var claims jwt.AccessClaims
	if err := jwt.Decode(token, &claims); err != nil || claims.ExpiresAt == nil {
		return ErrInvalidToken
	}
	added, err := e.denylist.Add(ctx, internal.HashTokenHex(token), claims.ExpiresAt.Time)
	if err != nil {
		return unavailable(err)
	}
	if added {
		e.metricInc(MetricTokenRevoked)
		e.emitAudit(ctx, auditTokenRevoked, true, claims.UserID, claims.SessionID, nil, nil)
	}
	return nil
}

// IsRevoked reports whether token is on the denylist.
func (e *Engine) IsRevoked(ctx context.Context, token string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	revoked, err := e.denylist.Contains(ctx, internal.HashTokenHex(token))
	if err != nil {
		return false, unavailable(err)
	}
	return revoked, nil
}

// LogoutByAccessToken revokes a valid access token and the session it was
// issued for.
func (e *Engine) LogoutByAccessToken(ctx context.Context, accessToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	claims, err := e.Validate(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := e.RevokeAccessToken(ctx, accessToken); err != nil {
		return err
	}
	return e.Logout(ctx, claims.SessionID)
}
