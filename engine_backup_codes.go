package azauth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/azora-os/azauth/internal"
)

// GenerateBackupCodes replaces the user's backup codes with count fresh
// ones (the configured count when count <= 0) and returns them in
// plaintext. Only digests are stored, so this is the only time they are
// visible.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID string, count int) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if count <= 0 {
		count = e.config.BackupCodes.Count
	}
	if count > maxBackupCodes {
		return nil, ErrInvalidRequest
	}
	if _, err := e.getMFA(ctx, userID); err != nil {
		return nil, err
	}

	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	for i := 0; i < count; i++ {
		raw, err := internal.NewBackupCode(e.config.BackupCodes.Length)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, internal.BackupCodeHash(userID, raw))
		codes = append(codes, internal.FormatBackupCode(raw))
	}
	if err := e.users.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, mapStoreError(err)
	}

	e.metricInc(MetricBackupCodesGenerated)
	e.emitAudit(ctx, auditBackupCodesGenerated, true, userID, "", nil, nil)
	return codes, nil
}

// ConsumeBackupCode redeems code. It reports false for unknown or already
// used codes; each code succeeds at most once even under concurrent calls.
func (e *Engine) ConsumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if err := e.backupAttempts.Check(ctx, userID); err != nil {
		return false, attemptsError(err, ErrBackupCodeRateLimited)
	}

	canonical := internal.CanonicalizeBackupCode(code)
	ok := false
	if canonical != "" {
		var err error
		ok, err = e.users.ConsumeBackupCode(ctx, userID, internal.BackupCodeHash(userID, canonical))
		if err != nil {
			if err = mapStoreError(err); !errors.Is(err, ErrUserNotFound) {
				return false, err
			}
		}
	}
	if !ok {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditBackupCodeFailed, false, userID, "", ErrBackupCodeInvalid, nil)
		if err := e.backupAttempts.Record(ctx, userID); err != nil {
			return false, attemptsError(err, ErrBackupCodeRateLimited)
		}
		return false, nil
	}

	if err := e.backupAttempts.Reset(ctx, userID); err != nil {
		e.log.Warn("reset backup code attempts", zap.String("user_id", userID), zap.Error(err))
	}
	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditBackupCodeUsed, true, userID, "", nil, nil)
	return true, nil
}

// RemainingBackupCodes returns how many unused codes the user holds.
func (e *Engine) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	settings, err := e.getMFA(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(settings.BackupCodes), nil
}
