package permission

import (
	"errors"
	"fmt"
	"sync"
)

// RoleManager holds one mask per role. Roles are registered at startup and
// the manager is frozen before it serves checks.
type RoleManager struct {
	registry *Registry

	mu       sync.RWMutex
	roles    map[string]Mask
	fallback string
	frozen   bool
}

func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask),
	}
}

// RegisterRole binds role to the mask of permissions. Every permission must
// already be registered.
func (rm *RoleManager) RegisterRole(role string, permissions []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return ErrRoleManagerFrozen
	}
	if role == "" {
		return errors.New("permission: empty role name")
	}
	if _, exists := rm.roles[role]; exists {
		return fmt.Errorf("%w: %s", ErrRoleExists, role)
	}
	mask, err := rm.registry.Mask(permissions...)
	if err != nil {
		return fmt.Errorf("role %s: %w", role, err)
	}
	rm.roles[role] = mask
	return nil
}

// SetFallback names the role whose mask applies to unknown roles. The role
// must be registered.
func (rm *RoleManager) SetFallback(role string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return ErrRoleManagerFrozen
	}
	if _, ok := rm.roles[role]; !ok {
		return fmt.Errorf("permission: fallback role %s not registered", role)
	}
	rm.fallback = role
	return nil
}

// Mask returns the mask of role, or of the fallback role when role is
// unknown. ok is false only when neither exists.
func (rm *RoleManager) Mask(role string) (Mask, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if m, ok := rm.roles[role]; ok {
		return m, true
	}
	if rm.fallback != "" {
		return rm.roles[rm.fallback], true
	}
	return 0, false
}

// Allowed reports whether role grants permission.
func (rm *RoleManager) Allowed(role, permission string) bool {
	m, ok := rm.Mask(role)
	if !ok {
		return false
	}
	return rm.registry.Allows(m, permission)
}

// Permissions lists the permissions granted to role.
func (rm *RoleManager) Permissions(role string) []string {
	m, ok := rm.Mask(role)
	if !ok {
		return nil
	}
	return rm.registry.Names(m)
}

func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	rm.frozen = true
	rm.mu.Unlock()
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
