package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/azora-os/azauth/internal/rate"
)

var (
	// ErrTooManyAttempts is returned when a subject has spent its budget.
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrAttemptsUnavailable indicates the attempts backend is unreachable.
	ErrAttemptsUnavailable = errors.New("attempt limiter backend unavailable")
)

// AttemptsConfig bounds Max hits per subject inside Window.
type AttemptsConfig struct {
	Prefix string
	Max    int
	Window time.Duration
}

// Attempts is a per-subject fixed-window budget. It backs backup-code and
// TOTP failure limits and the reset and verification request throttles.
type Attempts struct {
	redis  redis.UniversalClient
	config AttemptsConfig
}

// NewAttempts creates an attempt limiter. A non-positive Max disables it.
func NewAttempts(redisClient redis.UniversalClient, cfg AttemptsConfig) *Attempts {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Attempts{redis: redisClient, config: cfg}
}

func (a *Attempts) enabled() bool {
	return a != nil && a.config.Max > 0
}

func (a *Attempts) key(subject string) string {
	return a.config.Prefix + ":" + subject
}

// Check returns ErrTooManyAttempts when the budget is spent. It does not
// count the call.
func (a *Attempts) Check(ctx context.Context, subject string) error {
	if !a.enabled() || subject == "" {
		return nil
	}
	n, err := rate.Count(ctx, a.redis, a.key(subject))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	if n >= int64(a.config.Max) {
		return ErrTooManyAttempts
	}
	return nil
}

// Record counts one hit and returns ErrTooManyAttempts if it exceeded the
// budget.
func (a *Attempts) Record(ctx context.Context, subject string) error {
	if !a.enabled() || subject == "" {
		return nil
	}
	n, err := rate.Incr(ctx, a.redis, a.key(subject), a.config.Window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	if n > int64(a.config.Max) {
		return ErrTooManyAttempts
	}
	return nil
}

// Reset clears the subject's counter.
func (a *Attempts) Reset(ctx context.Context, subject string) error {
	if !a.enabled() || subject == "" {
		return nil
	}
	if err := a.redis.Del(ctx, a.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptsUnavailable, err)
	}
	return nil
}
