package azauth

import (
	"context"
	"strconv"
)

// UpdateRole changes the user's role. Access tokens already issued keep
// the old role until they expire.
func (e *Engine) UpdateRole(ctx context.Context, userID string, role Role) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !role.Valid() {
		return ErrInvalidRole
	}
	if err := e.users.UpdateRole(ctx, userID, role); err != nil {
		return mapStoreError(err)
	}
	e.emitAudit(ctx, auditRoleChange, true, userID, "", nil, map[string]string{"role": string(role)})
	return nil
}

// SetActive enables or disables the account. Disabling revokes every
// session so outstanding refresh tokens stop working immediately.
func (e *Engine) SetActive(ctx context.Context, userID string, active bool) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.users.SetActive(ctx, userID, active); err != nil {
		return mapStoreError(err)
	}
	if !active {
		n, err := e.sessions.DeleteAllForUser(ctx, userID)
		if err != nil {
			return mapSessionError(err)
		}
		e.metrics.Add(MetricSessionInvalidated, uint64(n))
	}
	e.emitAudit(ctx, auditActiveChange, true, userID, "", nil, map[string]string{"active": strconv.FormatBool(active)})
	return nil
}
