package password

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHashAndVerify(t *testing.T) {
	b, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	hash, err := b.Hash("Alpha123!")
	require.NoError(t, err)
	assert.True(t, b.Handles(hash))

	ok, err := b.Verify("Alpha123!", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Verify("alpha123!", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptRejectsOverlongPassword(t *testing.T) {
	b, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	_, err = b.Hash(string(make([]byte, 73)))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestSamePasswordHashesDiffer(t *testing.T) {
	a, err := NewArgon2(fastConfig())
	require.NoError(t, err)

	h1, err := a.Hash("Alpha123!")
	require.NoError(t, err)
	h2, err := a.Hash("Alpha123!")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestMultiVerifiesLegacyAndFlagsUpgrade(t *testing.T) {
	a, err := NewArgon2(fastConfig())
	require.NoError(t, err)
	b, err := NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	m := NewMulti(a, b)

	legacy, err := b.Hash("Alpha123!")
	require.NoError(t, err)

	ok, err := m.Verify("Alpha123!", legacy)
	require.NoError(t, err)
	assert.True(t, ok)

	upgrade, err := m.NeedsUpgrade(legacy)
	require.NoError(t, err)
	assert.True(t, upgrade)

	current, err := m.Hash("Alpha123!")
	require.NoError(t, err)
	upgrade, err = m.NeedsUpgrade(current)
	require.NoError(t, err)
	assert.False(t, upgrade)

	_, err = m.Verify("Alpha123!", "plaintext")
	assert.ErrorIs(t, err, ErrUnsupportedHash)
}

type slowHasher struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (s *slowHasher) Hash(string) (string, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		cur := s.maxSeen.Load()
		if n <= cur || s.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return "h", nil
}

func (s *slowHasher) Verify(string, string) (bool, error) { return true, nil }
func (s *slowHasher) NeedsUpgrade(string) (bool, error) { return false, nil }

func TestPoolBoundsConcurrency(t *testing.T) {
	inner := &slowHasher{}
	pool := NewPool(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Hash(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, inner.maxSeen.Load(), int32(2))
}

func TestPoolHonoursContext(t *testing.T) {
	pool := NewPool(&slowHasher{}, 1)
	pool.slots <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Hash(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
