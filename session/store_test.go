package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newSessionStoreTest(t *testing.T, max int) (*Store, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := NewStore(rdb, Config{Prefix: "ts", MaxSessions: max, Now: clock.Now})
	return store, mr, clock
}

func newRecord(clock *fakeClock, id, uid string) *Record {
	return &Record{
		ID:          id,
		UserID:      uid,
		RefreshHash: "hash-" + id,
		ExpiresAt:   clock.Now().Add(7 * 24 * time.Hour),
	}
}

func TestCreateEvictsOldestAtCap(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		evicted, err := store.Create(ctx, newRecord(clock, fmt.Sprintf("s%d", i), "u1"))
		require.NoError(t, err)
		assert.Empty(t, evicted)
	}

	evicted, err := store.Create(ctx, newRecord(clock, "s6", "u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, evicted)

	count, err := store.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	for i := 2; i <= 6; i++ {
		_, err := store.Get(ctx, fmt.Sprintf("s%d", i))
		assert.NoError(t, err)
	}
}

func TestConcurrentCreateNeverExceedsCap(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Create(ctx, newRecord(clock, fmt.Sprintf("c%d", i), "u1"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	count, err := store.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestCapIsPerUser(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, newRecord(clock, fmt.Sprintf("a%d", i), "alice"))
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, newRecord(clock, "b0", "bob"))
	require.NoError(t, err)

	n, _ := store.Count(ctx, "alice")
	assert.Equal(t, 2, n)
	n, _ = store.Count(ctx, "bob")
	assert.Equal(t, 1, n)
}

func TestRotateReplacesSession(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	old := newRecord(clock, "old", "u1")
	old.Metadata = DeviceMetadata(DeviceInfo{Name: "Pixel", Type: "mobile"})
	_, err := store.Create(ctx, old)
	require.NoError(t, err)

	next := newRecord(clock, "new", "u1")
	require.NoError(t, store.Rotate(ctx, "old", old.RefreshHash, next))

	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "hash-new", got.RefreshHash)
	device, ok := got.Metadata.Device()
	require.True(t, ok)
	assert.Equal(t, "Pixel", device.Name)

	n, _ := store.Count(ctx, "u1")
	assert.Equal(t, 1, n)
}

func TestRotateHashMismatchDeletesSession(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	_, err := store.Create(ctx, newRecord(clock, "s1", "u1"))
	require.NoError(t, err)

	err = store.Rotate(ctx, "s1", "wrong", newRecord(clock, "s2", "u1"))
	assert.ErrorIs(t, err, ErrHashMismatch)

	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "s2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRotateMissingAndExpired(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	err := store.Rotate(ctx, "ghost", "h", newRecord(clock, "s2", "u1"))
	assert.ErrorIs(t, err, ErrNotFound)

	rec := newRecord(clock, "s1", "u1")
	rec.ExpiresAt = clock.Now().Add(time.Minute)
	_, err = store.Create(ctx, rec)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	err = store.Rotate(ctx, "s1", rec.RefreshHash, newRecord(clock, "s3", "u1"))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	rec := newRecord(clock, "s1", "u1")
	_, err := store.Create(ctx, rec)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if store.Rotate(ctx, "s1", rec.RefreshHash, newRecord(clock, fmt.Sprintf("r%d", i), "u1")) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestExpiredSessionsFilteredAtRead(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	short := newRecord(clock, "short", "u1")
	short.ExpiresAt = clock.Now().Add(time.Minute)
	_, err := store.Create(ctx, short)
	require.NoError(t, err)
	_, err = store.Create(ctx, newRecord(clock, "long", "u1"))
	require.NoError(t, err)

	clock.Advance(time.Hour)

	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	active, err := store.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "long", active[0].ID)
}

func TestExpiredSessionsDoNotCountTowardCap(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec := newRecord(clock, fmt.Sprintf("e%d", i), "u1")
		rec.ExpiresAt = clock.Now().Add(time.Minute)
		_, err := store.Create(ctx, rec)
		require.NoError(t, err)
	}
	clock.Advance(time.Hour)

	evicted, err := store.Create(ctx, newRecord(clock, "fresh", "u1"))
	require.NoError(t, err)
	assert.Empty(t, evicted)
}

func TestTouchDoesNotExtendLifetime(t *testing.T) {
	store, mr, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	rec := newRecord(clock, "s1", "u1")
	_, err := store.Create(ctx, rec)
	require.NoError(t, err)
	ttlBefore := mr.TTL("ts:s:s1")

	clock.Advance(time.Hour)
	require.NoError(t, store.Touch(ctx, "s1"))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, rec.ExpiresAt.UnixMilli(), got.ExpiresAt.UnixMilli())
	assert.Equal(t, clock.Now().UnixMilli(), got.LastUsedAt.UnixMilli())
	assert.Equal(t, ttlBefore, mr.TTL("ts:s:s1"))

	assert.ErrorIs(t, store.Touch(ctx, "missing"), ErrNotFound)
}

func TestExtendMovesExpiry(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	rec := newRecord(clock, "s1", "u1")
	rec.ExpiresAt = clock.Now().Add(time.Hour)
	_, err := store.Create(ctx, rec)
	require.NoError(t, err)

	expiresAt, err := store.Extend(ctx, "s1", 48*time.Hour)
	require.NoError(t, err)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, expiresAt.UnixMilli(), got.ExpiresAt.UnixMilli())
	assert.True(t, got.ExpiresAt.After(rec.ExpiresAt))

	_, err = store.Extend(ctx, "missing", time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	_, err := store.Create(ctx, newRecord(clock, "s1", "u1"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "s1"))
	require.NoError(t, store.Delete(ctx, "s1"))

	n, _ := store.Count(ctx, "u1")
	assert.Zero(t, n)
}

func TestDeleteAllExceptKeepsCurrent(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, newRecord(clock, fmt.Sprintf("s%d", i), "u1"))
		require.NoError(t, err)
	}

	removed, err := store.DeleteAllExcept(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	active, err := store.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s1", active[0].ID)

	removed, err = store.DeleteAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = store.DeleteAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSweepPrunesExpired(t *testing.T) {
	store, mr, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	rec := newRecord(clock, "s1", "u1")
	rec.ExpiresAt = clock.Now().Add(time.Minute)
	_, err := store.Create(ctx, rec)
	require.NoError(t, err)
	_, err = store.Create(ctx, newRecord(clock, "s2", "u2"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	pruned, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	assert.False(t, mr.Exists("ts:s:s1"))
	assert.True(t, mr.Exists("ts:s:s2"))
}

func TestRequestMetadataStored(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	ctx := context.Background()

	rec := newRecord(clock, "s1", "u1")
	rec.Metadata = RequestMetadata(RequestContext{IP: "10.0.0.1", UserAgent: "curl/8"})
	_, err := store.Create(ctx, rec)
	require.NoError(t, err)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	req, ok := got.Metadata.Request()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", req.IP)
	_, ok = got.Metadata.Device()
	assert.False(t, ok)
}

func TestCreateRejectsExpiredRecord(t *testing.T) {
	store, _, clock := newSessionStoreTest(t, 5)
	rec := newRecord(clock, "s1", "u1")
	rec.ExpiresAt = clock.Now().Add(-time.Second)
	_, err := store.Create(context.Background(), rec)
	assert.Error(t, err)
}
