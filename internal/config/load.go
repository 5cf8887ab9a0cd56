// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override, e.g. TASKD_AUTH_JWT_SECRET.
const EnvPrefix = "TASKD_"

// keys lists every configuration key. Environment variables and flags are
// matched against it; anything else is ignored.
var keys = []string{
	"environment",
	"store",
	"http.addr",
	"http.cors_origins",
	"metrics.addr",
	"database.url",
	"database.connect_retries",
	"auth.jwt_secret",
	"auth.access_ttl",
	"auth.session_ttl",
	"auth.reset_ttl",
	"log.format",
	"log.level",
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"environment":  "environment",
	"store":        "store",
	"addr":         "http.addr",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// Load builds and validates a Config. path may be empty; flags may be nil.
// Only flags the user set override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := Read(path, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read layers the configuration like Load but skips Validate. Maintenance
// commands use it when they need only part of the configuration.
func Read(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(defaultsProvider{}, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "defaults").Wrap(err)
	}

	if path != "" {
		provider := file.Provider(path)
		data, err := provider.ReadBytes()
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.With("path", path).Wrap(err)
		}
		if err := k.Load(provider, koanfyaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return FlagKeys[f.Name], f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return &cfg, nil
}

// envKey turns TASKD_AUTH_JWT_SECRET into auth.jwt_secret. Unknown
// variables map to "" and are skipped.
func envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, key := range keys {
		if strings.ReplaceAll(key, ".", "_") == name {
			return key
		}
	}
	return ""
}

// listKeys hold comma-separated lists when set from the environment.
var listKeys = map[string]bool{
	"http.cors_origins": true,
}

// envValue maps a variable to its key via envKey and splits list values,
// so TASKD_HTTP_CORS_ORIGINS="a, b" becomes ["a", "b"].
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// defaultsProvider feeds Defaults into koanf as a nested map.
type defaultsProvider struct{}

func (defaultsProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("defaults provider does not support ReadBytes")
}

func (defaultsProvider) Read() (map[string]any, error) {
	d := Defaults()
	return map[string]any{
		"environment": d.Environment,
		"store":       d.Store,
		"http": map[string]any{
			"addr":         d.HTTP.Addr,
			"cors_origins": []string{},
		},
		"metrics": map[string]any{
			"addr": d.Metrics.Addr,
		},
		"database": map[string]any{
			"url":             d.Database.URL,
			"connect_retries": d.Database.ConnectRetries,
		},
		"auth": map[string]any{
			"jwt_secret":  d.Auth.JWTSecret,
			"access_ttl":  d.Auth.AccessTTL,
			"session_ttl": d.Auth.SessionTTL,
			"reset_ttl":   d.Auth.ResetTTL,
		},
		"log": map[string]any{
			"format": d.Log.Format,
			"level":  d.Log.Level,
		},
	}, nil
}
