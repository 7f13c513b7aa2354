package azauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/azora-os/azauth/credentials"
	"github.com/azora-os/azauth/internal"
	"github.com/azora-os/azauth/internal/audit"
	"github.com/azora-os/azauth/internal/limiters"
	"github.com/azora-os/azauth/internal/rate"
	"github.com/azora-os/azauth/internal/stores"
	"github.com/azora-os/azauth/internal/totp"
	"github.com/azora-os/azauth/internal/validation"
	"github.com/azora-os/azauth/jwt"
	"github.com/azora-os/azauth/notify"
	"github.com/azora-os/azauth/permission"
	"github.com/azora-os/azauth/password"
	"github.com/azora-os/azauth/session"
)

// Engine is the authentication core. It is safe for concurrent use once
// built.
type Engine struct {
	config Config
	log    *zap.Logger
	now    func() time.Time

	users    credentials.Store
	sessions *session.Store
	tokens   *jwt.Manager
	hasher   *password.Pool
	policy   validation.PasswordPolicy
	actions  *stores.ActionTokenStore
	denylist *stores.Denylist

	throttle       *rate.Limiter
	lockout        *limiters.Lockout
	totpAttempts   *limiters.Attempts
	backupAttempts *limiters.Attempts
	resetRequests  *limiters.Attempts
	verifyRequests *limiters.Attempts

	roles   *permission.RoleManager
	totp    *totp.Generator
	mail    *notify.Async
	audit   *audit.Dispatcher
	metrics *Metrics

	dummyOnce sync.Once
	dummy     string
}

// Close flushes pending audit events and waits for in-flight emails. Store
// handles belong to the caller and stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mail.Wait()
	e.audit.Close()
}

// AuditDropped returns the number of audit events dropped under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login verifies credentials and, for MFA accounts, the second factor, then
// opens a session. Wrong identifier and wrong password are
// indistinguishable to the caller.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}
	ip := clientIPFromContext(ctx)

	if err := e.throttle.CheckLogin(ctx, identifier, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditLoginRateLimited, false, "", "", ErrLoginRateLimited, nil)
			return nil, ErrLoginRateLimited
		}
		return nil, unavailable(err)
	}

	user, err := e.lookupIdentifier(ctx, identifier)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		// Spend the same hashing effort as a real check.
		_, _ = e.hasher.Verify(ctx, req.Password, e.dummyHash())
		return nil, e.loginFailed(ctx, identifier, ip, "")
	}

	locked, err := e.lockout.IsLocked(ctx, user.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	if locked {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, user.ID, "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	ok, err := e.verifyUserPassword(ctx, user, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.loginFailed(ctx, identifier, ip, user.ID)
	}

	if err := e.checkLoginAllowed(user); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, user.ID, "", err, nil)
		return nil, err
	}
	if err := e.mfaGate(ctx, user.ID, req.TOTPCode, req.BackupCode); err != nil {
		return nil, err
	}

	if err := e.throttle.ResetLogin(ctx, identifier); err != nil {
		e.log.Warn("reset login throttle", zap.Error(err))
	}
	if err := e.lockout.Reset(ctx, user.ID); err != nil {
		e.log.Warn("reset lockout counter", zap.String("user_id", user.ID), zap.Error(err))
	}
	e.maybeUpgradeHash(ctx, user, req.Password)

	pair, err := e.openSession(ctx, user, clientFromContext(ctx, req.Client))
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditLoginSuccess, true, user.ID, pair.SessionID, nil, nil)
	return pair, nil
}

func (e *Engine) loginFailed(ctx context.Context, identifier, ip, userID string) error {
	e.metricInc(MetricLoginFailure)
	if err := e.throttle.RecordLoginFailure(ctx, identifier, ip); err != nil {
		e.log.Warn("record login failure", zap.Error(err))
	}
	if userID != "" {
		locked, err := e.lockout.RecordFailure(ctx, userID)
		if err != nil {
			e.log.Warn("record lockout failure", zap.String("user_id", userID), zap.Error(err))
		}
		if locked {
			e.metricInc(MetricAccountLocked)
			e.emitAudit(ctx, auditAccountLocked, false, userID, "", ErrAccountLocked, nil)
			return ErrAccountLocked
		}
	}
	e.emitAudit(ctx, auditLoginFailure, false, userID, "", ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

func (e *Engine) checkLoginAllowed(user *User) error {
	if !user.Active {
		return ErrAccountDisabled
	}
	if e.config.Security.RequireVerifiedEmail && !user.EmailVerified {
		return ErrEmailNotVerified
	}
	return nil
}

// mfaGate enforces the second factor for accounts with MFA enabled.
func (e *Engine) mfaGate(ctx context.Context, userID, totpCode, backupCode string) error {
	required, err := e.RequireChallenge(ctx, userID)
	if err != nil {
		return err
	}
	if !required {
		return nil
	}
	switch {
	case strings.TrimSpace(totpCode) != "":
		return e.VerifyTOTP(ctx, userID, totpCode)
	case strings.TrimSpace(backupCode) != "":
		ok, err := e.ConsumeBackupCode(ctx, userID, backupCode)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBackupCodeInvalid
		}
		return nil
	default:
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditMFARequired, false, userID, "", ErrMFARequired, nil)
		return ErrMFARequired
	}
}

// openSession mints a token pair and registers its session, evicting the
// user's oldest sessions past the cap.
func (e *Engine) openSession(ctx context.Context, user *User, client ClientInfo) (*TokenPair, error) {
	sid := uuid.NewString()
	refresh, rc, err := e.tokens.IssueRefresh(user.ID, sid)
	if err != nil {
		return nil, err
	}
	access, ac, err := e.issueAccess(user, sid)
	if err != nil {
		return nil, err
	}

	now := e.now()
	evicted, err := e.sessions.Create(ctx, &session.Record{
		ID:          sid,
		UserID:      user.ID,
		RefreshHash: internal.HashTokenHex(refresh),
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   rc.ExpiresAt.Time,
		Metadata:    client,
	})
	if err != nil {
		return nil, mapSessionError(err)
	}
	e.metricInc(MetricSessionCreated)
	if len(evicted) > 0 {
		e.metrics.Add(MetricSessionEvicted, uint64(len(evicted)))
		for _, id := range evicted {
			e.emitAudit(ctx, auditSessionEvicted, true, user.ID, id, nil, nil)
		}
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		SessionID:        sid,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: rc.ExpiresAt.Time,
	}, nil
}

func (e *Engine) issueAccess(user *User, sid string) (string, *jwt.AccessClaims, error) {
	return e.tokens.IssueAccess(jwt.AccessSubject{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(user.Role),
		SessionID: sid,
	})
}

// Refresh rotates a refresh token. The presented token is never honoured
// again, and presenting a rotated token removes the session it names.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	// The session record, not the token's exp, decides whether an extended
	// session is still alive; Rotate rejects records past their expiry.
	claims, err := e.tokens.ParseRefreshForRotation(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRefreshInvalid, false, "", "", ErrInvalidToken, nil)
		return nil, ErrInvalidToken
	}

	if err := e.throttle.AllowRefresh(ctx, claims.SessionID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRefreshRateLimited)
			return nil, ErrRefreshRateLimited
		}
		return nil, unavailable(err)
	}

	user, err := e.getUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = e.sessions.Delete(ctx, claims.SessionID)
			e.metricInc(MetricRefreshFailure)
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if !user.Active {
		_ = e.sessions.Delete(ctx, claims.SessionID)
		e.metricInc(MetricRefreshFailure)
		return nil, ErrAccountDisabled
	}

	sid := uuid.NewString()
	refresh, rc, err := e.tokens.IssueRefresh(user.ID, sid)
	if err != nil {
		return nil, err
	}
	access, ac, err := e.issueAccess(user, sid)
	if err != nil {
		return nil, err
	}

	client := clientFromContext(ctx, ClientInfo{})
	if client.Kind() == session.MetadataNone {
		if prev, err := e.sessions.Get(ctx, claims.SessionID); err == nil {
			client = prev.Metadata
		}
	}
	now := e.now()
	next := &session.Record{
		ID:          sid,
		UserID:      user.ID,
		RefreshHash: internal.HashTokenHex(refresh),
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   rc.ExpiresAt.Time,
		Metadata:    client,
	}
	err = e.sessions.Rotate(ctx, claims.SessionID, internal.HashTokenHex(refreshToken), next)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrHashMismatch):
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRefreshReuse, false, user.ID, claims.SessionID, ErrSessionNotFound, nil)
		return nil, ErrSessionNotFound
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRefreshInvalid, false, user.ID, claims.SessionID, ErrSessionNotFound, nil)
		return nil, ErrSessionNotFound
	default:
		return nil, mapSessionError(err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditRefreshSuccess, true, user.ID, sid, nil, map[string]string{"previous_session_id": claims.SessionID})
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		SessionID:        sid,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: rc.ExpiresAt.Time,
	}, nil
}

// Logout removes one session. Unknown sessions are not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if sessionID == "" {
		return nil
	}
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return mapSessionError(err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditLogoutSession, true, "", sessionID, nil, nil)
	return nil
}

// LogoutAll removes every session of userID and returns how many were live.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, mapSessionError(err)
	}
	e.metricInc(MetricLogoutAll)
	e.metrics.Add(MetricSessionInvalidated, uint64(n))
	e.emitAudit(ctx, auditLogoutAll, true, userID, "", nil, nil)
	return n, nil
}

// LogoutAllExcept removes every session of userID other than keepSessionID.
func (e *Engine) LogoutAllExcept(ctx context.Context, userID, keepSessionID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.DeleteAllExcept(ctx, userID, keepSessionID)
	if err != nil {
		return 0, mapSessionError(err)
	}
	e.metricInc(MetricLogoutAll)
	e.metrics.Add(MetricSessionInvalidated, uint64(n))
	e.emitAudit(ctx, auditLogoutAll, true, userID, keepSessionID, nil, map[string]string{"kept": keepSessionID})
	return n, nil
}

func (e *Engine) lookupIdentifier(ctx context.Context, identifier string) (*User, error) {
	var (
		user *User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = e.users.GetUserByEmail(ctx, validation.NormalizeEmail(identifier))
	} else {
		user, err = e.users.GetUserByUsername(ctx, validation.NormalizeUsername(identifier))
	}
	return user, mapStoreError(err)
}

func (e *Engine) getUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	user, err := e.users.GetUserByID(ctx, userID)
	return user, mapStoreError(err)
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credentials.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, credentials.ErrDuplicateEmail):
		return ErrDuplicateEmail
	case errors.Is(err, credentials.ErrDuplicateUsername):
		return ErrDuplicateUsername
	case errors.Is(err, credentials.ErrDuplicateOAuth):
		return ErrDuplicateOAuth
	default:
		return unavailable(err)
	}
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrRedisUnavailable):
		return unavailable(err)
	default:
		return err
	}
}
