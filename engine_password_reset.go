package azauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/azora-os/azauth/internal"
	"github.com/azora-os/azauth/internal/stores"
	"github.com/azora-os/azauth/internal/validation"
	"github.com/azora-os/azauth/jwt"
	"github.com/azora-os/azauth/notify"
)

// RequestPasswordReset issues a reset token for userID and emails it. A new
// request replaces any earlier token, so only the latest one works.
func (e *Engine) RequestPasswordReset(ctx context.Context, userID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return "", ErrFeatureDisabled
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.Active {
		return "", ErrAccountDisabled
	}
	if err := e.resetRequests.Record(ctx, userID); err != nil {
		return "", attemptsError(err, ErrRequestRateLimited)
	}

	token, err := e.issueActionToken(ctx, jwt.TypeReset, stores.PurposePasswordReset, userID, e.config.PasswordReset.TTL)
	if err != nil {
		return "", err
	}

	e.mail.Dispatch(ctx, notify.Message{
		To:      user.Email,
		Subject: "Reset your password",
		Text:    actionEmailText("Use this link to choose a new password", e.config.PasswordReset.LinkBase, token, e.config.PasswordReset.TTL),
	})
	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditPasswordResetRequest, true, userID, "", nil, nil)
	return token, nil
}

// RequestPasswordResetByEmail is the public entry point of the flow. It
// reports success for unknown, disabled and throttled accounts alike so
// callers cannot discover which addresses are registered.
func (e *Engine) RequestPasswordResetByEmail(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrFeatureDisabled
	}
	user, err := e.users.GetUserByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		if err = mapStoreError(err); errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricPasswordResetRequest)
			return nil
		}
		return err
	}
	if _, err := e.RequestPasswordReset(ctx, user.ID); err != nil {
		if k := KindOf(err); k == KindUnavailable || k == KindInternal {
			return err
		}
	}
	return nil
}

// ValidatePasswordReset returns the user a reset token belongs to. The
// Redis record decides: a correctly signed token that has been replaced or
// used is ErrResetTokenNotFound.
func (e *Engine) ValidatePasswordReset(ctx context.Context, token string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	userID, err := e.parseActionToken(jwt.TypeReset, token, ErrResetTokenNotFound, ErrResetTokenExpired)
	if err != nil {
		return "", err
	}
	err = e.actions.Check(ctx, stores.PurposePasswordReset, userID, internal.HashToken(token))
	if err != nil {
		return "", actionStoreError(err, ErrResetTokenNotFound, ErrResetTokenExpired)
	}
	return userID, nil
}

// CompletePasswordReset sets a new password for userID, revokes every
// session and then discards the outstanding reset token.
func (e *Engine) CompletePasswordReset(ctx context.Context, userID, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.policy.Validate(newPassword); err != nil {
		return invalid(ErrPasswordPolicy, err)
	}
	if err := e.applyNewPassword(ctx, userID, newPassword); err != nil {
		return err
	}
	if err := e.actions.Delete(ctx, stores.PurposePasswordReset, userID); err != nil {
		e.log.Warn("delete reset token", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// ResetPassword redeems token and sets newPassword. The token is consumed
// atomically, so of two concurrent calls with the same token at most one
// succeeds. A password that fails policy leaves the token usable.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	userID, err := e.parseActionToken(jwt.TypeReset, token, ErrResetTokenNotFound, ErrResetTokenExpired)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return err
	}
	if err := e.policy.Validate(newPassword); err != nil {
		return invalid(ErrPasswordPolicy, err)
	}
	err = e.actions.Consume(ctx, stores.PurposePasswordReset, userID, internal.HashToken(token))
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		err = actionStoreError(err, ErrResetTokenNotFound, ErrResetTokenExpired)
		e.emitAudit(ctx, auditPasswordReset, false, userID, "", err, nil)
		return err
	}
	return e.applyNewPassword(ctx, userID, newPassword)
}

func (e *Engine) applyNewPassword(ctx context.Context, userID, newPassword string) error {
	if _, err := e.getUser(ctx, userID); err != nil {
		return err
	}
	hash, err := e.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return mapStoreError(err)
	}
	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return mapSessionError(err)
	}
	if err := e.lockout.Reset(ctx, userID); err != nil {
		e.log.Warn("reset lockout after password reset", zap.String("user_id", userID), zap.Error(err))
	}
	e.metrics.Add(MetricSessionInvalidated, uint64(n))
	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditPasswordReset, true, userID, "", nil, map[string]string{"sessions_revoked": fmt.Sprint(n)})
	return nil
}

func (e *Engine) issueActionToken(ctx context.Context, typ jwt.TokenType, purpose stores.Purpose, userID string, ttl time.Duration) (string, error) {
	token, claims, err := e.tokens.IssueAction(typ, userID, ttl)
	if err != nil {
		return "", err
	}
	if err := e.actions.Put(ctx, purpose, userID, internal.HashToken(token), claims.ExpiresAt.Time); err != nil {
		return "", unavailable(err)
	}
	return token, nil
}

func (e *Engine) parseActionToken(typ jwt.TokenType, token string, notFound, expired error) (string, error) {
	claims, err := e.tokens.ParseAction(typ, token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return "", expired
		}
		return "", notFound
	}
	if claims.UserID == "" {
		return "", notFound
	}
	return claims.UserID, nil
}

func actionStoreError(err, notFound, expired error) error {
	switch {
	case errors.Is(err, stores.ErrActionNotFound):
		return notFound
	case errors.Is(err, stores.ErrActionExpired):
		return expired
	default:
		return unavailable(err)
	}
}

func actionEmailText(lead, linkBase, token string, ttl time.Duration) string {
	link := token
	if linkBase != "" {
		link = linkBase + token
	}
	return fmt.Sprintf("%s:\n\n%s\n\nThe link expires in %s. If you did not ask for this, ignore this email.\n", lead, link, ttl)
}
