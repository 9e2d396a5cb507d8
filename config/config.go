package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Config holds every setting the server reads from the environment.
type Config struct {
	Port    string
	Env     string
	Service string

	MongoURI      string
	MongoDatabase string
	StoreDriver   string

	RedisAddress  string
	RedisPassword string

	JWTSecret string
	TokenTTL  time.Duration

	IssueRateLimit   int64
	IssueLimitPrefix string

	EscalationInterval time.Duration

	LogLevel  string
	LogFormat string

	FrontendURL string
	Domain      string

	// AdminEmail and AdminPassword seed the first admin account when set.
	AdminEmail    string
	AdminPassword string
}

// IsProduction reports whether cookies should be marked secure.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("GO_ENV", "development")
	v.SetDefault("SERVICE_NAME", "civicsync-dispatch")
	v.SetDefault("MONGODB_DATABASE", "civicsync")
	v.SetDefault("STORE_DRIVER", DriverMongo)
	v.SetDefault("TOKEN_TTL", "72h")
	v.SetDefault("ISSUE_RATE_LIMIT", 10)
	v.SetDefault("REDIS_QUEUE_FOR_ISSUE_LIMIT", "issue-limit")
	v.SetDefault("ESCALATION_INTERVAL", "24h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
	v.SetDefault("REDIS_ADDRESS", "localhost:6379")

	cfg := &Config{
		Port:               v.GetString("PORT"),
		Env:                v.GetString("GO_ENV"),
		Service:            v.GetString("SERVICE_NAME"),
		MongoURI:           v.GetString("MONGODB_URI"),
		MongoDatabase:      v.GetString("MONGODB_DATABASE"),
		StoreDriver:        strings.ToLower(v.GetString("STORE_DRIVER")),
		RedisAddress:       v.GetString("REDIS_ADDRESS"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		TokenTTL:           v.GetDuration("TOKEN_TTL"),
		IssueRateLimit:     v.GetInt64("ISSUE_RATE_LIMIT"),
		IssueLimitPrefix:   v.GetString("REDIS_QUEUE_FOR_ISSUE_LIMIT"),
		EscalationInterval: v.GetDuration("ESCALATION_INTERVAL"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
		FrontendURL:        v.GetString("FRONTEND_URL"),
		Domain:             v.GetString("DOMAIN"),
		AdminEmail:         v.GetString("ADMIN_EMAIL"),
		AdminPassword:      v.GetString("ADMIN_PASSWORD"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGODB_URI is required when STORE_DRIVER=mongo"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMongo, DriverMemory, c.StoreDriver))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be a positive duration"))
	}
	if c.EscalationInterval <= 0 {
		errs = append(errs, errors.New("ESCALATION_INTERVAL must be a positive duration"))
	}
	if c.AdminEmail != "" && len(c.AdminPassword) < 6 {
		errs = append(errs, errors.New("ADMIN_PASSWORD must be at least 6 characters when ADMIN_EMAIL is set"))
	}
	if c.IssueRateLimit <= 0 {
		errs = append(errs, errors.New("ISSUE_RATE_LIMIT must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
