// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/authgate/authgate/internal/xdg"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: AUTHGATE_JWT__SECRET_KEY sets jwt.secret_key.
const EnvPrefix = "AUTHGATE_"

// DatabaseURLEnv overrides database.url when set.
const DatabaseURLEnv = "DATABASE_URL"

// flagKeys maps command-line flags to config keys. Flags not listed here
// are not configuration.
var flagKeys = map[string]string{
	"addr":          "http.addr",
	"metrics-addr":  "observability.addr",
	"log-format":    "log.format",
	"log-level":     "log.level",
	"refresh-store": "store.refresh_tokens",
	"auto-migrate":  "store.auto_migrate",
}

// LoadOptions control Load.
type LoadOptions struct {
	// File is an explicit config path. When empty the XDG default is used
	// if it exists.
	File string
	// Flags are applied last; only flags the user changed take effect.
	Flags *pflag.FlagSet
}

// Load merges defaults, the YAML file, the environment and flags, in that
// order of precedence, and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := Merge(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge is Load without validation.
func Merge(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	path, required := opts.File, true
	if path == "" {
		required = false
		if p, err := xdg.ConfigFile(); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := loadFile(k, path, required); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}
	if dbURL := os.Getenv(DatabaseURLEnv); dbURL != "" {
		if err := k.Set("database.url", dbURL); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", DatabaseURLEnv).Wrap(err)
		}
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, flagKey(opts.Flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	d := Defaults()
	defaults := map[string]any{
		"jwt.expiration_minutes":            d.JWT.ExpirationMinutes,
		"jwt.refresh_token_expiration_days": d.JWT.RefreshTokenExpirationDays,
		"jwt.refresh_token_size":            d.JWT.RefreshTokenSize,
		"http.addr":                         d.HTTP.Addr,
		"observability.addr":                d.Observability.Addr,
		"log.format":                        d.Log.Format,
		"log.level":                         d.Log.Level,
		"store.refresh_tokens":              d.Store.RefreshTokens,
		"store.cleanup_interval":            d.Store.CleanupInterval.String(),
		"store.auto_migrate":                d.Store.AutoMigrate,
		"redis.addr":                        d.Redis.Addr,
		"redis.prefix":                      d.Redis.Prefix,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").With("key", key).Wrap(err)
		}
	}
	return nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateYAML(data); err != nil {
		return oops.Code("CONFIG_SCHEMA_INVALID").With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// envKey maps AUTHGATE_JWT__SECRET_KEY to jwt.secret_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

// redactURL masks the password of a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
