package azauth

import (
	"context"
	"fmt"
	"sort"

	"github.com/azora-os/azauth/permission"
)

// Permission names. PermSystemAdmin is the root permission and implies every
// other one.
const (
	PermUserCreate    = "user:create"
	PermUserRead      = "user:read"
	PermUserUpdate    = "user:update"
	PermUserDelete    = "user:delete"
	PermPaymentCreate = "payment:create"
	PermPaymentRead   = "payment:read"
	PermPaymentUpdate = "payment:update"
	PermPaymentDelete = "payment:delete"
	PermCourseCreate  = "course:create"
	PermCourseRead    = "course:read"
	PermCourseUpdate  = "course:update"
	PermCourseDelete  = "course:delete"
	PermSystemAdmin   = "system:admin"
)

// RolePermissions maps each role to the permissions it grants.
type RolePermissions map[Role][]string

// DefaultRolePermissions returns the built-in catalogue.
func DefaultRolePermissions() RolePermissions {
	return RolePermissions{
		RoleAdmin: {
			PermUserCreate, PermUserRead, PermUserUpdate, PermUserDelete,
			PermPaymentCreate, PermPaymentRead, PermPaymentUpdate, PermPaymentDelete,
			PermCourseCreate, PermCourseRead, PermCourseUpdate, PermCourseDelete,
			PermSystemAdmin,
		},
		RoleInstructor: {PermCourseCreate, PermCourseRead, PermCourseUpdate, PermUserRead, PermPaymentRead},
		RoleStudent:    {PermCourseRead, PermUserRead, PermPaymentCreate},
		RoleUser:       {PermUserRead, PermUserUpdate},
	}
}

// newRoleManager registers every permission named in catalogue, binds each
// role, and falls back to RoleUser for unknown roles.
func newRoleManager(catalogue RolePermissions) (*permission.RoleManager, error) {
	if _, ok := catalogue[RoleUser]; !ok {
		return nil, fmt.Errorf("role permissions: %s role is required", RoleUser)
	}

	registry := permission.NewRegistry(PermSystemAdmin)
	seen := map[string]struct{}{PermSystemAdmin: {}}
	roles := make([]Role, 0, len(catalogue))
	for role := range catalogue {
		roles = append(roles, role)
	}
	// Bits follow a fixed order so Permissions lists are stable.
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	for _, role := range roles {
		if !role.Valid() {
			return nil, fmt.Errorf("role permissions: %w: %q", ErrInvalidRole, role)
		}
		for _, name := range catalogue[role] {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			if _, err := registry.Register(name); err != nil {
				return nil, fmt.Errorf("role permissions: %w", err)
			}
		}
	}
	registry.Freeze()

	rm := permission.NewRoleManager(registry)
	for _, role := range roles {
		if err := rm.RegisterRole(string(role), catalogue[role]); err != nil {
			return nil, err
		}
	}
	if err := rm.SetFallback(string(RoleUser)); err != nil {
		return nil, err
	}
	rm.Freeze()
	return rm, nil
}

func cloneRolePermissions(in RolePermissions) RolePermissions {
	if in == nil {
		return nil
	}
	out := make(RolePermissions, len(in))
	for role, perms := range in {
		out[role] = append([]string(nil), perms...)
	}
	return out
}

// Permissions lists what role grants. Unknown roles get the USER set.
func (e *Engine) Permissions(role Role) []string {
	if e == nil {
		return nil
	}
	return e.roles.Permissions(string(role))
}

// HasPermission reports whether role grants perm. Holders of
// PermSystemAdmin are granted everything registered.
func (e *Engine) HasPermission(role Role, perm string) bool {
	if e == nil {
		return false
	}
	return e.roles.Allowed(string(role), perm)
}

// UserPermissions resolves the permissions of userID from the user's
// current stored role, not the role in any issued token.
func (e *Engine) UserPermissions(ctx context.Context, userID string) (Role, []string, error) {
	if e == nil {
		return "", nil, ErrEngineNotReady
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	return user.Role, e.Permissions(user.Role), nil
}
