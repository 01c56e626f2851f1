package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	SlotGranularity   int           `mapstructure:"SLOT_GRANULARITY_MINUTES"`
	SlotCacheTTL      time.Duration `mapstructure:"SLOT_CACHE_TTL"`
	BookingMaxAttempt int           `mapstructure:"BOOKING_MAX_ATTEMPTS"`
	PaymentURLBase    string        `mapstructure:"PAYMENT_URL_BASE"`
	NotifyChannel     string        `mapstructure:"NOTIFY_CHANNEL"`
	ExportDir         string        `mapstructure:"EXPORT_DIR"`
	ExportTimeout     time.Duration `mapstructure:"EXPORT_TIMEOUT"`
	WebhookURL        string        `mapstructure:"NOTIFY_WEBHOOK_URL"`
	WebhookSecret     string        `mapstructure:"NOTIFY_WEBHOOK_SECRET"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"SLOT_GRANULARITY_MINUTES", "SLOT_CACHE_TTL", "BOOKING_MAX_ATTEMPTS",
	"PAYMENT_URL_BASE", "NOTIFY_CHANNEL", "EXPORT_DIR", "EXPORT_TIMEOUT",
	"NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_SECRET",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SLOT_GRANULARITY_MINUTES", 30)
	v.SetDefault("SLOT_CACHE_TTL", "15s")
	v.SetDefault("BOOKING_MAX_ATTEMPTS", 3)
	v.SetDefault("PAYMENT_URL_BASE", "/api/v1/payments")
	v.SetDefault("NOTIFY_CHANNEL", "booking.events")
	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_TIMEOUT", "2m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode: requests without a token are treated as admin")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.SlotGranularity <= 0 {
		return fmt.Errorf("SLOT_GRANULARITY_MINUTES must be positive, got %d", c.SlotGranularity)
	}
	if c.BookingMaxAttempt <= 0 {
		return fmt.Errorf("BOOKING_MAX_ATTEMPTS must be positive, got %d", c.BookingMaxAttempt)
	}
	if c.SlotCacheTTL < 0 {
		return fmt.Errorf("SLOT_CACHE_TTL must not be negative")
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	return nil
}
