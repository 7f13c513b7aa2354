package stores

import (
	"context"
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestActionTokenLastWriterWins(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewActionTokenStore(rdb, "t", nil)
	ctx := context.Background()

	first := sha256.Sum256([]byte("first"))
	second := sha256.Sum256([]byte("second"))
	exp := time.Now().Add(time.Hour)

	require.NoError(t, store.Put(ctx, PurposePasswordReset, "u1", first, exp))
	require.NoError(t, store.Put(ctx, PurposePasswordReset, "u1", second, exp))

	assert.ErrorIs(t, store.Check(ctx, PurposePasswordReset, "u1", first), ErrActionNotFound)
	assert.NoError(t, store.Check(ctx, PurposePasswordReset, "u1", second))
	assert.Len(t, mr.Keys(), 1)
}

func TestActionTokenPurposesAreIndependent(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewActionTokenStore(rdb, "t", nil)
	ctx := context.Background()

	h := sha256.Sum256([]byte("tok"))
	require.NoError(t, store.Put(ctx, PurposePasswordReset, "u1", h, time.Now().Add(time.Hour)))

	assert.ErrorIs(t, store.Check(ctx, PurposeEmailVerification, "u1", h), ErrActionNotFound)
}

func TestActionTokenExpiredByClock(t *testing.T) {
	_, rdb := newTestRedis(t)
	now := time.Now()
	store := NewActionTokenStore(rdb, "t", func() time.Time { return now })
	ctx := context.Background()

	h := sha256.Sum256([]byte("tok"))
	require.NoError(t, store.Put(ctx, PurposePasswordReset, "u1", h, now.Add(time.Hour)))

	now = now.Add(2 * time.Hour)
	assert.ErrorIs(t, store.Check(ctx, PurposePasswordReset, "u1", h), ErrActionExpired)
}

func TestActionTokenConsumeOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewActionTokenStore(rdb, "t", nil)
	ctx := context.Background()

	h := sha256.Sum256([]byte("tok"))
	require.NoError(t, store.Put(ctx, PurposeEmailVerification, "u1", h, time.Now().Add(time.Hour)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Consume(ctx, PurposeEmailVerification, "u1", h) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.ErrorIs(t, store.Check(ctx, PurposeEmailVerification, "u1", h), ErrActionNotFound)
}

func TestActionTokenDelete(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewActionTokenStore(rdb, "t", nil)
	ctx := context.Background()

	h := sha256.Sum256([]byte("tok"))
	require.NoError(t, store.Put(ctx, PurposePasswordReset, "u1", h, time.Now().Add(time.Hour)))
	require.NoError(t, store.Delete(ctx, PurposePasswordReset, "u1"))
	require.NoError(t, store.Delete(ctx, PurposePasswordReset, "u1"))
	assert.ErrorIs(t, store.Check(ctx, PurposePasswordReset, "u1", h), ErrActionNotFound)
}

func TestDenylistTTLMatchesExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	now := time.Now()
	d := NewDenylist(rdb, "d", func() time.Time { return now })
	ctx := context.Background()

	added, err := d.Add(ctx, "abc", now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 10*time.Minute, mr.TTL("d:abc"))

	revoked, err := d.Contains(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(11 * time.Minute)
	revoked, err = d.Contains(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestDenylistSkipsExpiredTokens(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewDenylist(rdb, "d", nil)

	added, err := d.Add(context.Background(), "old", time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, mr.Keys())
}
