package azauth

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/azora-os/azauth/internal/audit"
)

type (
	// AuditEvent is one security event.
	AuditEvent = audit.Event
	// AuditSink receives audit events from the engine's dispatcher goroutine.
	AuditSink = audit.Sink
)

// NewJSONAuditSink writes one JSON object per event to w.
func NewJSONAuditSink(w io.Writer) AuditSink { return audit.NewJSONSink(w) }

// NewZapAuditSink logs events through log.
func NewZapAuditSink(log *zap.Logger) AuditSink { return audit.NewZapSink(log) }

// NewChannelAuditSink buffers events in a channel; useful in tests.
func NewChannelAuditSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

const (
	auditLoginSuccess         = "login_success"
	auditLoginFailure         = "login_failure"
	auditLoginRateLimited     = "login_rate_limited"
	auditAccountLocked        = "account_locked"
	auditMFARequired          = "mfa_required"
	auditMFASuccess           = "mfa_success"
	auditMFAFailure           = "mfa_failure"
	auditMFAEnrolled          = "mfa_enrolled"
	auditMFAEnabled           = "mfa_enabled"
	auditMFADisabled          = "mfa_disabled"
	auditBackupCodesGenerated = "backup_codes_generated"
	auditBackupCodeUsed       = "backup_code_used"
	auditBackupCodeFailed     = "backup_code_failed"
	auditRefreshSuccess       = "refresh_success"
	auditRefreshInvalid       = "refresh_invalid"
	auditRefreshReuse         = "refresh_reuse_detected"
	auditSessionEvicted       = "session_evicted"
	auditLogoutSession        = "logout_session"
	auditLogoutAll            = "logout_all"
	auditTokenRevoked         = "token_revoked"
	auditRegister             = "register"
	auditOAuthLinked          = "oauth_linked"
	auditPasswordChange       = "password_change"
	auditPasswordResetRequest = "password_reset_request"
	auditPasswordReset        = "password_reset"
	auditEmailVerifyRequest   = "email_verification_request"
	auditEmailVerified        = "email_verified"
	auditRoleChange           = "role_change"
	auditActiveChange         = "account_active_change"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, userID, sessionID string, err error, attrs map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, audit.Event{
		Time:      e.now().UTC(),
		Type:      eventType,
		UserID:    userID,
		SessionID: sessionID,
		Success:   success,
		Reason:    auditReason(err),
		Client:    clientFromContext(ctx, ClientInfo{}),
		Attrs:     attrs,
	})
}

// auditReason renders err as a stable code; raw error text can carry input.
func auditReason(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrMFARequired):
		return "mfa_required"
	case errors.Is(err, ErrMFAInvalid), errors.Is(err, ErrBackupCodeInvalid):
		return "mfa_invalid"
	case errors.Is(err, ErrResetTokenNotFound), errors.Is(err, ErrVerificationTokenNotFound):
		return "token_not_found"
	case errors.Is(err, ErrResetTokenExpired), errors.Is(err, ErrVerificationTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	}
	switch KindOf(err) {
	case KindValidation:
		return "invalid_input"
	case KindConflict:
		return "duplicate"
	case KindAuthentication:
		return "invalid_token"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}
