package credentials

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(id, email, username string) *User {
	return &User{ID: id, Email: email, Username: username, PasswordHash: "h", Role: RoleUser, Active: true}
}

func TestMemoryCreateUserEnforcesUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.CreateUser(ctx, newUser("1", "a@b.co", "alice")))
	assert.ErrorIs(t, s.CreateUser(ctx, newUser("2", "a@b.co", "bob")), ErrDuplicateEmail)
	assert.ErrorIs(t, s.CreateUser(ctx, newUser("3", "c@d.co", "alice")), ErrDuplicateUsername)
}

func TestMemoryConcurrentCreateSameEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := newUser(string(rune('a'+i)), "same@b.co", "user"+string(rune('a'+i)))
			if s.CreateUser(ctx, u) == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateUser(ctx, newUser("1", "a@b.co", "alice")))

	u, err := s.GetUserByID(ctx, "1")
	require.NoError(t, err)
	u.Email = "mutated@b.co"

	again, err := s.GetUserByEmail(ctx, "a@b.co")
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", again.Email)
}

func TestMemoryLinkOAuth(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateUser(ctx, newUser("1", "a@b.co", "alice")))
	require.NoError(t, s.CreateUser(ctx, newUser("2", "c@d.co", "carol")))

	require.NoError(t, s.LinkOAuth(ctx, "1", "github", "gh-1"))
	require.NoError(t, s.LinkOAuth(ctx, "1", "github", "gh-1"))
	assert.ErrorIs(t, s.LinkOAuth(ctx, "2", "github", "gh-1"), ErrDuplicateOAuth)

	u, err := s.GetUserByOAuth(ctx, "github", "gh-1")
	require.NoError(t, err)
	assert.Equal(t, "1", u.ID)

	_, err = s.GetUserByOAuth(ctx, "google", "gh-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConsumeBackupCodeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateUser(ctx, newUser("1", "a@b.co", "alice")))

	code := [32]byte{1}
	require.NoError(t, s.SaveMFA(ctx, &MFASettings{UserID: "1", Secret: "JBSWY3DPEHPK3PXP"}))
	require.NoError(t, s.ReplaceBackupCodes(ctx, "1", [][32]byte{code, {2}}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeBackupCode(ctx, "1", code)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	settings, err := s.GetMFA(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, settings.BackupCodes, 1)
}

func TestMemoryAdvanceTOTPCounter(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.CreateUser(ctx, newUser("1", "a@b.co", "alice")))
	require.NoError(t, s.SaveMFA(ctx, &MFASettings{UserID: "1", Secret: "X", LastUsedCounter: -1}))

	ok, err := s.AdvanceTOTPCounter(ctx, "1", 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceTOTPCounter(ctx, "1", 10)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AdvanceTOTPCounter(ctx, "1", 9)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AdvanceTOTPCounter(ctx, "1", 11)
	require.NoError(t, err)
	assert.True(t, ok)
	settings, err := s.GetMFA(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), settings.LastUsedCounter)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("instructor")
	require.NoError(t, err)
	assert.Equal(t, RoleInstructor, r)

	_, err = ParseRole("root")
	assert.Error(t, err)
}
