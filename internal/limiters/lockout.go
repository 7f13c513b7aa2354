package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/azora-os/azauth/internal/rate"
)

// LockoutConfig holds configuration for automatic account lockout.
type LockoutConfig struct {
	Enabled   bool
	Prefix    string
	Threshold int
	Duration  time.Duration
}

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// Lockout tracks failed password attempts per user. Reaching the threshold
// restarts the key TTL at Duration, so the lock lasts a full Duration from
// the failure that tripped it.
type Lockout struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockout creates a lockout limiter.
func NewLockout(redisClient redis.UniversalClient, cfg LockoutConfig) *Lockout {
	if cfg.Prefix == "" {
		cfg.Prefix = "azl:lo"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 15 * time.Minute
	}
	return &Lockout{redis: redisClient, config: cfg}
}

func (l *Lockout) key(userID string) string {
	return l.config.Prefix + ":" + userID
}

func (l *Lockout) active(userID string) bool {
	return l != nil && l.config.Enabled && userID != ""
}

// IsLocked reports whether the user has reached the failure threshold.
func (l *Lockout) IsLocked(ctx context.Context, userID string) (bool, error) {
	n, err := l.FailureCount(ctx, userID)
	if err != nil {
		return false, err
	}
	return l.active(userID) && n >= l.config.Threshold, nil
}

// RecordFailure counts a failed attempt and reports whether the account is
// now locked.
func (l *Lockout) RecordFailure(ctx context.Context, userID string) (bool, error) {
	if !l.active(userID) {
		return false, nil
	}
	n, err := rate.Incr(ctx, l.redis, l.key(userID), l.config.Duration)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if n < int64(l.config.Threshold) {
		return false, nil
	}
	if n == int64(l.config.Threshold) {
		if err := l.redis.Expire(ctx, l.key(userID), l.config.Duration).Err(); err != nil {
			return true, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}
	return true, nil
}

// Reset clears the failure counter after a successful login or an unlock.
func (l *Lockout) Reset(ctx context.Context, userID string) error {
	if !l.active(userID) {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current failure count for a user.
func (l *Lockout) FailureCount(ctx context.Context, userID string) (int, error) {
	if !l.active(userID) {
		return 0, nil
	}
	n, err := rate.Count(ctx, l.redis, l.key(userID))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(n), nil
}
