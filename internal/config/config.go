// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

// Package config loads and validates the authgate configuration.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/authgate/authgate/internal/logging"
	"github.com/authgate/authgate/internal/token"
)

// Refresh token store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is the full service configuration.
type Config struct {
	JWT           JWTConfig           `json:"jwt" yaml:"jwt"`
	HTTP          HTTPConfig          `json:"http" yaml:"http"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	Log           LogConfig           `json:"log" yaml:"log"`
	Auth          AuthConfig          `json:"auth" yaml:"auth"`
	Store         StoreConfig         `json:"store" yaml:"store"`
	Database      DatabaseConfig      `json:"database" yaml:"database"`
	Redis         RedisConfig         `json:"redis" yaml:"redis"`
}

// JWTConfig configures token issuance.
type JWTConfig struct {
	SecretKey                  string `json:"secret_key" yaml:"secret_key" jsonschema:"description=HMAC-SHA256 signing key; at least 32 characters"`
	Issuer                     string `json:"issuer" yaml:"issuer"`
	Audience                   string `json:"audience" yaml:"audience"`
	ExpirationMinutes          int    `json:"expiration_minutes" yaml:"expiration_minutes" jsonschema:"minimum=1"`
	RefreshTokenExpirationDays int    `json:"refresh_token_expiration_days" yaml:"refresh_token_expiration_days" jsonschema:"minimum=1"`
	RefreshTokenSize           int    `json:"refresh_token_size" yaml:"refresh_token_size" jsonschema:"minimum=16"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string     `json:"addr" yaml:"addr"`
	CORS CORSConfig `json:"cors" yaml:"cors"`
}

// CORSConfig lists browser origins allowed to call the API with
// credentials. Entries are glob patterns such as https://*.example.com.
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// ObservabilityConfig configures the metrics and health listener.
type ObservabilityConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `json:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `json:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// AuthConfig tunes the auth service.
type AuthConfig struct {
	// UnifyLoginFailures reports an unknown username as invalid credentials.
	UnifyLoginFailures bool `json:"unify_login_failures" yaml:"unify_login_failures"`
}

// StoreConfig selects the refresh token backend.
type StoreConfig struct {
	RefreshTokens   string        `json:"refresh_tokens" yaml:"refresh_tokens" jsonschema:"enum=postgres,enum=redis"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	AutoMigrate     bool          `json:"auto_migrate" yaml:"auto_migrate"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL      string `json:"url" yaml:"url"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns" jsonschema:"minimum=0"`
}

// RedisConfig configures the Redis refresh token store.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db" jsonschema:"minimum=0"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// Defaults returns the built-in configuration. The secret key, issuer,
// audience and database URL have no defaults.
func Defaults() Config {
	return Config{
		JWT: JWTConfig{
			ExpirationMinutes:          15,
			RefreshTokenExpirationDays: 7,
			RefreshTokenSize:           token.DefaultRefreshBytes,
		},
		HTTP:          HTTPConfig{Addr: ":8080"},
		Observability: ObservabilityConfig{Addr: "127.0.0.1:9100"},
		Log:           LogConfig{Format: "json", Level: "info"},
		Store: StoreConfig{
			RefreshTokens:   StorePostgres,
			CleanupInterval: time.Hour,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{Addr: "localhost:6379", Prefix: "authgate:"},
	}
}

func invalid(field string, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf("%s: %s", field, fmt.Sprintf(format, args...))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.TokenConfig().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "jwt").Wrap(err)
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "is required")
	}
	for _, origin := range c.HTTP.CORS.AllowedOrigins {
		if _, err := glob.Compile(origin); err != nil {
			return oops.Code("CONFIG_INVALID").With("field", "http.cors.allowed_origins").With("origin", origin).Wrap(err)
		}
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return invalid("log.format", "must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "log.level").Wrap(err)
	}
	switch c.Store.RefreshTokens {
	case StorePostgres:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return invalid("redis.addr", "is required when store.refresh_tokens is redis")
		}
	default:
		return invalid("store.refresh_tokens", "must be postgres or redis, got %q", c.Store.RefreshTokens)
	}
	if c.Store.CleanupInterval < 0 {
		return invalid("store.cleanup_interval", "must not be negative")
	}
	if c.Database.URL == "" {
		return invalid("database.url", "is required (or set DATABASE_URL)")
	}
	return nil
}

// TokenConfig converts the JWT section into token.Config.
func (c *Config) TokenConfig() token.Config {
	return token.Config{
		SecretKey:        c.JWT.SecretKey,
		Issuer:           c.JWT.Issuer,
		Audience:         c.JWT.Audience,
		AccessTokenTTL:   time.Duration(c.JWT.ExpirationMinutes) * time.Minute,
		RefreshTokenTTL:  time.Duration(c.JWT.RefreshTokenExpirationDays) * 24 * time.Hour,
		RefreshTokenSize: c.JWT.RefreshTokenSize,
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	const mask = "[REDACTED]"
	if c.JWT.SecretKey != "" {
		c.JWT.SecretKey = mask
	}
	if c.Redis.Password != "" {
		c.Redis.Password = mask
	}
	if c.Database.URL != "" {
		c.Database.URL = redactURL(c.Database.URL)
	}
	c.HTTP.CORS.AllowedOrigins = slices.Clone(c.HTTP.CORS.AllowedOrigins)
	return c
}
