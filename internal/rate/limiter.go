package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "azr"

var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Incr bumps the fixed-window counter at key and returns the new count. The
// window TTL is applied on the first hit only.
func Incr(ctx context.Context, rdb redis.Scripter, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = time.Minute
	}
	n, err := incrScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// Count reads the counter at key. A missing key counts as zero.
func Count(ctx context.Context, rdb redis.Cmdable, key string) (int64, error) {
	n, err := rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Config holds throttle budgets. A zero Max disables the corresponding check.
type Config struct {
	Prefix                string
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxLoginAttempts      int
	LoginWindow           time.Duration
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
}

// Limiter throttles failed logins per identifier and IP and refreshes per
// session.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Limiter{redis: redisClient, config: cfg}
}

func (l *Limiter) loginKey(identifier string) string {
	return l.config.Prefix + ":l:" + strings.ToLower(strings.TrimSpace(identifier))
}

func (l *Limiter) loginIPKey(ip string) string { return l.config.Prefix + ":li:" + ip }

func (l *Limiter) refreshKey(sessionID string) string { return l.config.Prefix + ":r:" + sessionID }

// CheckLogin reports ErrRateLimited when either the identifier or the IP has
// spent its failed-login budget. It does not count the attempt.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if err := l.check(ctx, l.loginKey(identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.check(ctx, l.loginIPKey(ip), l.config.MaxLoginAttempts)
	}
	return nil
}

// RecordLoginFailure counts a failed login for the identifier and IP.
func (l *Limiter) RecordLoginFailure(ctx context.Context, identifier, ip string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if _, err := Incr(ctx, l.redis, l.loginKey(identifier), l.config.LoginWindow); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if _, err := Incr(ctx, l.redis, l.loginIPKey(ip), l.config.LoginWindow); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the identifier counter after a successful login. The IP
// counter is left alone so one good account cannot launder a sprayer's IP.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, l.loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginFailures returns the current failure count for an identifier.
func (l *Limiter) LoginFailures(ctx context.Context, identifier string) (int, error) {
	if l == nil {
		return 0, nil
	}
	n, err := Count(ctx, l.redis, l.loginKey(identifier))
	return int(n), err
}

// AllowRefresh counts a refresh for the session and reports ErrRateLimited
// once the window budget is exceeded.
func (l *Limiter) AllowRefresh(ctx context.Context, sessionID string) error {
	if l == nil || !l.config.EnableRefreshThrottle || l.config.MaxRefreshAttempts <= 0 {
		return nil
	}
	n, err := Incr(ctx, l.redis, l.refreshKey(sessionID), l.config.RefreshWindow)
	if err != nil {
		return err
	}
	if n > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) check(ctx context.Context, key string, max int) error {
	n, err := Count(ctx, l.redis, key)
	if err != nil {
		return err
	}
	if n >= int64(max) {
		return ErrRateLimited
	}
	return nil
}
