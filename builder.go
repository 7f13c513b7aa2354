package azauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/azora-os/azauth/credentials"
	"github.com/azora-os/azauth/internal/audit"
	"github.com/azora-os/azauth/internal/limiters"
	"github.com/azora-os/azauth/internal/rate"
	"github.com/azora-os/azauth/internal/stores"
	"github.com/azora-os/azauth/internal/totp"
	"github.com/azora-os/azauth/internal/validation"
	"github.com/azora-os/azauth/jwt"
	"github.com/azora-os/azauth/notify"
	"github.com/azora-os/azauth/password"
	"github.com/azora-os/azauth/session"
)

// Builder assembles an Engine. Every store handle is injected; the engine
// never dials anything itself.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	users  credentials.Store
	mailer notify.Sender
	log    *zap.Logger
	sink   AuditSink
	now    func() time.Time
	perms  RolePermissions

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client shared by sessions, denylist, action tokens and
// limiters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store credentials.Store) *Builder {
	b.users = store
	return b
}

// WithEmailSender sets the sender for reset and verification emails. Without
// one, emails are logged.
func (b *Builder) WithEmailSender(sender notify.Sender) *Builder {
	b.mailer = sender
	return b
}

func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithRolePermissions replaces DefaultRolePermissions. The catalogue must
// include RoleUser, which also applies to unknown roles.
func (b *Builder) WithRolePermissions(perms RolePermissions) *Builder {
	b.perms = cloneRolePermissions(perms)
	return b
}

// WithClock overrides time.Now for every time-dependent component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("credential store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := newHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		AccessSecret:  cloneBytes(cfg.JWT.AccessSecret),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		RefreshSecret: cloneBytes(cfg.JWT.RefreshSecret),
		ActionSecret:  cloneBytes(cfg.JWT.ActionSecret),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	catalogue := b.perms
	if catalogue == nil {
		catalogue = DefaultRolePermissions()
	}
	roles, err := newRoleManager(catalogue)
	if err != nil {
		return nil, err
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = notify.NewLogSender(log)
	}

	sec := cfg.Security
	prefix := sec.RedisPrefix

	engine := &Engine{
		config: cfg,
		log:    log.Named("azauth"),
		now:    now,
		users:  b.users,
		sessions: session.NewStore(b.redis, session.Config{
			Prefix:      cfg.Session.RedisPrefix,
			MaxSessions: cfg.Session.MaxSessionsPerUser,
			Now:         now,
		}),
		tokens:   tokens,
		hasher:   password.NewPool(hasher, cfg.Password.MaxConcurrentHashes),
		actions:  stores.NewActionTokenStore(b.redis, prefix+":t", now),
		denylist: stores.NewDenylist(b.redis, prefix+":d", now),
		throttle: rate.New(b.redis, rate.Config{
			Prefix:                prefix + ":r",
			EnableIPThrottle:      sec.EnableIPThrottle,
			EnableRefreshThrottle: sec.EnableRefreshThrottle,
			MaxLoginAttempts:      sec.MaxLoginAttempts,
			LoginWindow:           sec.LoginWindow,
			MaxRefreshAttempts:    sec.MaxRefreshAttempts,
			RefreshWindow:         sec.RefreshWindow,
		}),
		lockout: limiters.NewLockout(b.redis, limiters.LockoutConfig{
			Enabled:   sec.LockoutEnabled,
			Prefix:    prefix + ":lo",
			Threshold: sec.LockoutThreshold,
			Duration:  sec.LockoutDuration,
		}),
		totpAttempts: limiters.NewAttempts(b.redis, limiters.AttemptsConfig{
			Prefix: prefix + ":tp",
			Max:    cfg.TOTP.MaxAttempts,
			Window: cfg.TOTP.AttemptWindow,
		}),
		backupAttempts: limiters.NewAttempts(b.redis, limiters.AttemptsConfig{
			Prefix: prefix + ":bk",
			Max:    cfg.BackupCodes.MaxAttempts,
			Window: cfg.BackupCodes.AttemptWindow,
		}),
		resetRequests: limiters.NewAttempts(b.redis, limiters.AttemptsConfig{
			Prefix: prefix + ":rr",
			Max:    cfg.PasswordReset.MaxRequestsPerUser,
			Window: cfg.PasswordReset.RequestWindow,
		}),
		verifyRequests: limiters.NewAttempts(b.redis, limiters.AttemptsConfig{
			Prefix: prefix + ":vr",
			Max:    cfg.EmailVerification.MaxRequestsPerUser,
			Window: cfg.EmailVerification.RequestWindow,
		}),
		roles: roles,
		totp: totp.New(totp.Config{
			Issuer:    cfg.TOTP.Issuer,
			Period:    cfg.TOTP.Period,
			Digits:    cfg.TOTP.Digits,
			Algorithm: cfg.TOTP.Algorithm,
			Skew:      cfg.TOTP.Skew,
		}),
		policy: validation.PasswordPolicy{
			MinLength:      cfg.PasswordPolicy.MinLength,
			MaxLength:      cfg.PasswordPolicy.MaxLength,
			RequireUpper:   cfg.PasswordPolicy.RequireUpper,
			RequireLower:   cfg.PasswordPolicy.RequireLower,
			RequireDigit:   cfg.PasswordPolicy.RequireDigit,
			RequireSpecial: cfg.PasswordPolicy.RequireSpecial,
		},
		mail: notify.NewAsync(mailer, log.Named("mail"), 0),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.sink),
		metrics: NewMetrics(cfg.Metrics),
	}

	b.built = true
	return engine, nil
}

// newHasher makes the configured scheme primary and keeps the other one for
// verifying hashes created before a scheme change.
func newHasher(cfg PasswordConfig) (password.Hasher, error) {
	argon, err := password.NewArgon2(password.Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil && cfg.Scheme == "argon2id" {
		return nil, err
	}
	bcryptCost := cfg.BcryptCost
	if bcryptCost == 0 {
		bcryptCost = 12
	}
	bc, bcErr := password.NewBcrypt(bcryptCost)
	if bcErr != nil {
		return nil, bcErr
	}

	if cfg.Scheme == "bcrypt" {
		if argon == nil {
			return password.NewMulti(bc), nil
		}
		return password.NewMulti(bc, argon), nil
	}
	return password.NewMulti(argon, bc), nil
}
