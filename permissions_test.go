package azauth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azora-os/azauth/credentials"
)

func TestRolePermissionSets(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		role Role
		want []string
	}{
		{RoleAdmin, []string{
			PermUserCreate, PermUserRead, PermUserUpdate, PermUserDelete,
			PermPaymentCreate, PermPaymentRead, PermPaymentUpdate, PermPaymentDelete,
			PermCourseCreate, PermCourseRead, PermCourseUpdate, PermCourseDelete,
			PermSystemAdmin,
		}},
		{RoleInstructor, []string{PermCourseCreate, PermCourseRead, PermCourseUpdate, PermUserRead, PermPaymentRead}},
		{RoleStudent, []string{PermCourseRead, PermUserRead, PermPaymentCreate}},
		{RoleUser, []string{PermUserRead, PermUserUpdate}},
		{Role("GUEST"), []string{PermUserRead, PermUserUpdate}},
	}
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			assert.ElementsMatch(t, tc.want, h.engine.Permissions(tc.role))
		})
	}
}

func TestHasPermission(t *testing.T) {
	h := newHarness(t, nil)

	assert.True(t, h.engine.HasPermission(RoleInstructor, PermCourseCreate))
	assert.False(t, h.engine.HasPermission(RoleInstructor, PermCourseDelete))
	assert.False(t, h.engine.HasPermission(RoleStudent, PermPaymentRead))
	assert.True(t, h.engine.HasPermission(RoleStudent, PermPaymentCreate))
	assert.False(t, h.engine.HasPermission(RoleUser, PermCourseRead))
	assert.True(t, h.engine.HasPermission(RoleAdmin, PermCourseDelete))
	assert.False(t, h.engine.HasPermission(RoleAdmin, "unknown:perm"))
}

func TestUserPermissionsFollowStoredRole(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.register(t, "alice@test.com", "alice")

	role, perms, err := h.engine.UserPermissions(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, role)
	assert.ElementsMatch(t, []string{PermUserRead, PermUserUpdate}, perms)

	require.NoError(t, h.engine.UpdateRole(ctx, alice.ID, RoleStudent))
	role, perms, err = h.engine.UserPermissions(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, role)
	assert.Contains(t, perms, PermPaymentCreate)

	_, _, err = h.engine.UserPermissions(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCustomRolePermissions(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	build := func(perms RolePermissions) (*Engine, error) {
		return New().
			WithConfig(testConfig()).
			WithRedis(rdb).
			WithCredentialStore(credentials.NewMemory()).
			WithRolePermissions(perms).
			Build()
	}

	_, err := build(RolePermissions{RoleAdmin: {PermSystemAdmin}})
	assert.Error(t, err)

	_, err = build(RolePermissions{RoleUser: {}, Role("OWNER"): {PermUserRead}})
	assert.ErrorIs(t, err, ErrInvalidRole)

	engine, err := build(RolePermissions{
		RoleUser:  {"report:read"},
		RoleAdmin: {PermSystemAdmin},
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	assert.Equal(t, []string{"report:read"}, engine.Permissions(RoleUser))
	assert.True(t, engine.HasPermission(RoleAdmin, "report:read"))
	assert.False(t, engine.HasPermission(RoleStudent, PermCourseRead))
}
