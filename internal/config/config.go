package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// MinSigningKeyLength is the shortest JWT signing key accepted in production.
const MinSigningKeyLength = 32

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	JWTSigningKey       string        `mapstructure:"JWT_SIGNING_KEY"`
	TokenTTL            time.Duration `mapstructure:"TOKEN_TTL"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit           string        `mapstructure:"BODY_LIMIT"`
	BookingLockTimeout  time.Duration `mapstructure:"BOOKING_LOCK_TIMEOUT"`
	ClinicTimezone      string        `mapstructure:"CLINIC_TIMEZONE"`
	ReleaseSlotOnReject bool          `mapstructure:"RELEASE_SLOT_ON_REJECT"`
	SendGridAPIKey      string        `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail   string        `mapstructure:"SENDGRID_FROM_EMAIL"`
	OutboxPollInterval  time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	SweepSchedule       string        `mapstructure:"SWEEP_SCHEDULE"`
	MigrationsDir       string        `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"JWT_SIGNING_KEY", "TOKEN_TTL", "CORS_ORIGINS", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT", "BOOKING_LOCK_TIMEOUT",
	"CLINIC_TIMEZONE", "RELEASE_SLOT_ON_REJECT", "SENDGRID_API_KEY",
	"SENDGRID_FROM_EMAIL", "OUTBOX_POLL_INTERVAL", "SWEEP_SCHEDULE", "MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("BOOKING_LOCK_TIMEOUT", "3s")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("RELEASE_SLOT_ON_REJECT", false)
	v.SetDefault("SENDGRID_FROM_EMAIL", "no-reply@healthlink.local")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "2s")
	v.SetDefault("SWEEP_SCHEDULE", "5 0 * * *")
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	// Bind explicitly so Unmarshal sees keys that only exist in the env.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE. "Today" for bookings and the daily
// sweep is computed in this zone.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key of at least MinSigningKeyLength bytes is required.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "test", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, test, staging or production, got %q", c.Env)
	}

	if !c.IsDev() && len(c.JWTSigningKey) < MinSigningKeyLength {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least %d bytes when ENV=%s", MinSigningKeyLength, c.Env)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.BookingLockTimeout <= 0 {
		return fmt.Errorf("BOOKING_LOCK_TIMEOUT must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.IsProduction() && c.SendGridAPIKey != "" && c.SendGridFromEmail == "" {
		return fmt.Errorf("SENDGRID_FROM_EMAIL is required when SENDGRID_API_KEY is set")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
