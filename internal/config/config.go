// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads taskd configuration from defaults, a YAML file,
// TASKD_* environment variables and command-line flags, in that order.
package config

import (
	"slices"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/taskd/internal/auth"
	"github.com/holomush/taskd/internal/logging"
)

// MinSecretLength is the shortest signing secret accepted outside development.
const MinSecretLength = 32

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// EnvDevelopment relaxes the secret length check.
const EnvDevelopment = "development"

// Config is the complete taskd configuration.
type Config struct {
	Environment string         `koanf:"environment" json:"environment,omitempty" jsonschema:"enum=development,enum=test,enum=production"`
	Store       string         `koanf:"store" json:"store,omitempty" jsonschema:"enum=postgres,enum=memory"`
	HTTP        HTTPConfig     `koanf:"http" json:"http,omitempty"`
	Metrics     MetricsConfig  `koanf:"metrics" json:"metrics,omitempty"`
	Database    DatabaseConfig `koanf:"database" json:"database,omitempty"`
	Auth        AuthConfig     `koanf:"auth" json:"auth,omitempty"`
	Log         LogConfig      `koanf:"log" json:"log,omitempty"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" jsonschema:"description=API listen address (host:port)"`
	// CORSOrigins are glob patterns such as https://*.example.com.
	CORSOrigins []string `koanf:"cors_origins" json:"cors_origins,omitempty"`
}

// MetricsConfig configures the observability listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url" json:"url,omitempty" jsonschema:"description=PostgreSQL connection URL"`
	ConnectRetries uint64 `koanf:"connect_retries" json:"connect_retries,omitempty" jsonschema:"maximum=100"`
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret" json:"jwt_secret,omitempty" jsonschema:"description=HS256 signing secret; prefer TASKD_AUTH_JWT_SECRET"`
	AccessTTL  time.Duration `koanf:"access_ttl" json:"access_ttl,omitempty" jsonschema:"type=string,example=15m"`
	SessionTTL time.Duration `koanf:"session_ttl" json:"session_ttl,omitempty" jsonschema:"type=string,example=168h"`
	ResetTTL   time.Duration `koanf:"reset_ttl" json:"reset_ttl,omitempty" jsonschema:"type=string,example=1h"`
}

type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Defaults returns the built-in configuration layer.
func Defaults() Config {
	return Config{
		Environment: "production",
		Store:       StorePostgres,
		HTTP:        HTTPConfig{Addr: ":8080"},
		Metrics:     MetricsConfig{Addr: "127.0.0.1:9100"},
		Database:    DatabaseConfig{ConnectRetries: 5},
		Auth: AuthConfig{
			AccessTTL:  auth.AccessTokenTTL,
			SessionTTL: auth.SessionTTL,
			ResetTTL:   auth.ResetTokenTTL,
		},
		Log: LogConfig{Format: "json", Level: "info"},
	}
}

// IsDevelopment reports whether the development environment is selected.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Validate checks cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return invalid("store", "must be %q or %q", StorePostgres, StoreMemory)
	}
	if c.Store == StorePostgres && c.Database.URL == "" {
		return invalid("database.url", "is required for the postgres store")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "is required")
	}
	if c.Auth.JWTSecret == "" {
		return invalid("auth.jwt_secret", "is required")
	}
	if !c.IsDevelopment() && len(c.Auth.JWTSecret) < MinSecretLength {
		return invalid("auth.jwt_secret", "must be at least %d bytes outside development", MinSecretLength)
	}
	for key, ttl := range map[string]time.Duration{
		"auth.access_ttl":  c.Auth.AccessTTL,
		"auth.session_ttl": c.Auth.SessionTTL,
		"auth.reset_ttl":   c.Auth.ResetTTL,
	} {
		if ttl <= 0 {
			return invalid(key, "must be positive")
		}
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return invalid("log.format", "must be json or text")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "%s", err.Error())
	}
	return nil
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(key+" "+format, args...)
}
