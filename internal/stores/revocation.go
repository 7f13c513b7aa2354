package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrDenylistRedisUnavailable = errors.New("denylist redis unavailable")

// Denylist records revoked access tokens by hash until their natural expiry.
type Denylist struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewDenylist(redisClient redis.UniversalClient, prefix string, now func() time.Time) *Denylist {
	if prefix == "" {
		prefix = "azd"
	}
	if now == nil {
		now = time.Now
	}
	return &Denylist{redis: redisClient, prefix: prefix, now: now}
}

func (d *Denylist) key(tokenHash string) string {
	return d.prefix + ":" + tokenHash
}

// Add denylists tokenHash until expiresAt. A token that has already expired is not
// stored and Add reports false.
func (d *Denylist) Add(ctx context.Context, tokenHash string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(d.now())
	if ttl <= 0 {
		return false, nil
	}
	if err := d.redis.Set(ctx, d.key(tokenHash), "1", ttl).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrDenylistRedisUnavailable, err)
	}
	return true, nil
}

func (d *Denylist) Contains(ctx context.Context, tokenHash string) (bool, error) {
	n, err := d.redis.Exists(ctx, d.key(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDenylistRedisUnavailable, err)
	}
	return n == 1, nil
}
