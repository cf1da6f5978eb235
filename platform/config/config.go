// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides the BAP mirror connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// MigrationConfig controls whether the BAP mirror schema is applied at startup.
type MigrationConfig interface {
	GetBAPAutoMigrate() bool
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// RateLimitConfig provides per-client request limits.
type RateLimitConfig interface {
	GetRateLimitRPS() float64
	GetRateLimitBurst() int
}

// FormioConfig provides settings for the Formio REST client.
type FormioConfig interface {
	GetFormioBaseURL() string
	GetFormioAPIKey() string
	GetFormioTimeout() time.Duration
	GetFormioMaxConns() int
}

// RedisConfig provides settings for the shared mutation guard.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetMutationGuardTTL() time.Duration
	IsRedisEnabled() bool
}

// RebateYearsConfig provides the per-year form registry.
type RebateYearsConfig interface {
	RebateYear(year string) (RebateYearConfig, bool)
	RebateYearList() []RebateYearConfig
}

// =============================================================================
// Main Config Struct (implements all interfaces)
// =============================================================================

type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	BAPAutoMigrate   bool
	JWTAccessSecret  string
	CORSAllowAll     bool
	CORSOrigins      []string
	CORSAllowCreds   bool
	RateLimitRPS     float64
	RateLimitBurst   int
	FormioBaseURL    string
	FormioAPIKey     string
	FormioTimeout    time.Duration
	FormioMaxConns   int
	RedisURL         string
	RedisTLSInsecure bool
	MutationGuardTTL time.Duration
	RebateYearsFile  string

	years *RebateYears
}

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// MigrationConfig implementation
func (c *Config) GetBAPAutoMigrate() bool { return c.BAPAutoMigrate }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// RateLimitConfig implementation
func (c *Config) GetRateLimitRPS() float64 { return c.RateLimitRPS }
func (c *Config) GetRateLimitBurst() int   { return c.RateLimitBurst }

// FormioConfig implementation
func (c *Config) GetFormioBaseURL() string        { return c.FormioBaseURL }
func (c *Config) GetFormioAPIKey() string         { return c.FormioAPIKey }
func (c *Config) GetFormioTimeout() time.Duration { return c.FormioTimeout }
func (c *Config) GetFormioMaxConns() int          { return c.FormioMaxConns }

// RedisConfig implementation
func (c *Config) GetRedisURL() string                { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool          { return c.RedisTLSInsecure }
func (c *Config) GetMutationGuardTTL() time.Duration { return c.MutationGuardTTL }
func (c *Config) IsRedisEnabled() bool               { return c.RedisURL != "" }

// RebateYearsConfig implementation
func (c *Config) RebateYear(year string) (RebateYearConfig, bool) {
	if c.years == nil {
		return RebateYearConfig{}, false
	}
	return c.years.Lookup(year)
}

func (c *Config) RebateYearList() []RebateYearConfig {
	if c.years == nil {
		return nil
	}
	return c.years.Years
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		BAPAutoMigrate:   strings.EqualFold(getEnv("BAP_AUTO_MIGRATE", "false"), "true"),
		JWTAccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:     corsAllowAll,
		CORSOrigins:      corsOrigins,
		CORSAllowCreds:   strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RateLimitRPS:     mustFloat(getEnv("RATE_LIMIT_RPS", "10")),
		RateLimitBurst:   mustInt(getEnv("RATE_LIMIT_BURST", "20")),
		FormioBaseURL:    strings.TrimRight(getEnv("FORMIO_BASE_URL", ""), "/"),
		FormioAPIKey:     getEnv("FORMIO_API_KEY", ""),
		FormioTimeout:    mustDuration(getEnv("FORMIO_TIMEOUT", "15s")),
		FormioMaxConns:   mustInt(getEnv("FORMIO_MAX_CONNS", "16")),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		MutationGuardTTL: mustDuration(getEnv("MUTATION_GUARD_TTL", "30s")),
		RebateYearsFile:  getEnv("REBATE_YEARS_FILE", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.FormioBaseURL == "" || cfg.FormioAPIKey == "" {
		return nil, fmt.Errorf("FORMIO_BASE_URL and FORMIO_API_KEY are required")
	}
	if cfg.FormioTimeout <= 0 {
		return nil, fmt.Errorf("FORMIO_TIMEOUT must be a positive duration")
	}
	if cfg.MutationGuardTTL <= 0 {
		return nil, fmt.Errorf("MUTATION_GUARD_TTL must be a positive duration")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	years, err := LoadRebateYears(cfg.RebateYearsFile)
	if err != nil {
		return nil, err
	}
	cfg.years = years

	return cfg, nil
}

// WithRebateYears returns a copy of c using years as its form registry.
func (c *Config) WithRebateYears(years *RebateYears) *Config {
	clone := *c
	clone.years = years
	return &clone
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
