// Package config loads azauthd settings from an optional YAML file and
// AZAUTH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/azora-os/azauth"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // dev, staging, prod
	LogLevel    string `mapstructure:"log_level"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// AMQPConfig selects the mail transport. With an empty URL emails are only
// logged.
type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

// AuthConfig holds the engine settings operators usually change. Anything
// not listed keeps its azauth.DefaultConfig value.
type AuthConfig struct {
	AccessSecret         string        `mapstructure:"access_secret"`
	RefreshSecret        string        `mapstructure:"refresh_secret"`
	ActionSecret         string        `mapstructure:"action_secret"`
	Issuer               string        `mapstructure:"issuer"`
	AccessTTL            time.Duration `mapstructure:"access_ttl"`
	RefreshTTL           time.Duration `mapstructure:"refresh_ttl"`
	MaxSessionsPerUser   int           `mapstructure:"max_sessions_per_user"`
	PasswordScheme       string        `mapstructure:"password_scheme"`
	ResetLinkBase        string        `mapstructure:"reset_link_base"`
	VerifyLinkBase       string        `mapstructure:"verify_link_base"`
	SendVerifyOnRegister bool          `mapstructure:"send_verify_on_register"`
	RequireVerifiedEmail bool          `mapstructure:"require_verified_email"`
	StrictValidation     bool          `mapstructure:"strict_validation"`
	TOTPIssuer           string        `mapstructure:"totp_issuer"`
	LockoutThreshold     int           `mapstructure:"lockout_threshold"`
	LockoutDuration      time.Duration `mapstructure:"lockout_duration"`
	AuditEnabled         bool          `mapstructure:"audit_enabled"`
	LatencyHistograms    bool          `mapstructure:"latency_histograms"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	def := azauth.DefaultConfig()

	v.SetDefault("app.name", "azauth")
	v.SetDefault("app.environment", "dev")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "")
	v.SetDefault("amqp.routing_key", "auth.email")

	v.SetDefault("auth.access_secret", "")
	v.SetDefault("auth.refresh_secret", "")
	v.SetDefault("auth.action_secret", "")
	v.SetDefault("auth.issuer", def.JWT.Issuer)
	v.SetDefault("auth.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("auth.refresh_ttl", def.JWT.RefreshTTL)
	v.SetDefault("auth.max_sessions_per_user", def.Session.MaxSessionsPerUser)
	v.SetDefault("auth.password_scheme", def.Password.Scheme)
	v.SetDefault("auth.reset_link_base", "")
	v.SetDefault("auth.verify_link_base", "")
	v.SetDefault("auth.send_verify_on_register", def.EmailVerification.SendOnRegister)
	v.SetDefault("auth.require_verified_email", def.Security.RequireVerifiedEmail)
	v.SetDefault("auth.strict_validation", def.Security.StrictValidation)
	v.SetDefault("auth.totp_issuer", def.TOTP.Issuer)
	v.SetDefault("auth.lockout_threshold", def.Security.LockoutThreshold)
	v.SetDefault("auth.lockout_duration", def.Security.LockoutDuration)
	v.SetDefault("auth.audit_enabled", true)
	v.SetDefault("auth.latency_histograms", true)

	v.SetDefault("sweeper.interval", 10*time.Minute)
}

// Load reads path when non-empty, then applies environment overrides such
// as AZAUTH_REDIS_ADDR or AZAUTH_AUTH_ACCESS_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("AZAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("config: postgres.dsn is required")
	}
	return &cfg, nil
}

// Engine builds the engine configuration and validates it.
func (c *Config) Engine() (azauth.Config, error) {
	out := azauth.DefaultConfig()
	a := c.Auth

	out.JWT.AccessSecret = []byte(a.AccessSecret)
	out.JWT.RefreshSecret = []byte(a.RefreshSecret)
	out.JWT.ActionSecret = []byte(a.ActionSecret)
	out.JWT.Issuer = a.Issuer
	out.JWT.AccessTTL = a.AccessTTL
	out.JWT.RefreshTTL = a.RefreshTTL
	out.Session.MaxSessionsPerUser = a.MaxSessionsPerUser
	out.Password.Scheme = a.PasswordScheme
	out.PasswordReset.LinkBase = a.ResetLinkBase
	out.EmailVerification.LinkBase = a.VerifyLinkBase
	out.EmailVerification.SendOnRegister = a.SendVerifyOnRegister
	out.Security.RequireVerifiedEmail = a.RequireVerifiedEmail
	out.Security.StrictValidation = a.StrictValidation
	out.TOTP.Issuer = a.TOTPIssuer
	out.Security.LockoutThreshold = a.LockoutThreshold
	out.Security.LockoutDuration = a.LockoutDuration
	out.Audit.Enabled = a.AuditEnabled
	out.Metrics.EnableLatencyHistograms = a.LatencyHistograms

	if err := out.Validate(); err != nil {
		return azauth.Config{}, fmt.Errorf("config: auth: %w", err)
	}
	return out, nil
}
