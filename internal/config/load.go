// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/lavendrix/credentiald/internal/xdg"
)

// EnvPrefix marks environment variables read as configuration.
// CREDENTIALD_MAIL__SMTP__HOST sets mail.smtp.host.
const EnvPrefix = "CREDENTIALD_"

const delim = "."

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// Path is an explicit config file. It must exist. When empty the XDG
	// default is read if present.
	Path string
	// Flags are overlaid last. Only flags named in FlagKeys are read.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys, e.g. "addr" -> "http.addr".
	FlagKeys map[string]string
	// SkipValidation returns the merged configuration without checking it.
	// Commands that read only a section validate that section themselves.
	SkipValidation bool
}

// Load layers defaults, file, environment and flags, then validates.
// The returned path is the file that was read, or "".
func Load(opts LoadOptions) (*Config, string, error) {
	k := koanf.New(delim)

	if err := k.Load(confmap.Provider(defaultsMap(), delim), nil); err != nil {
		return nil, "", oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	path, err := resolvePath(opts.Path)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, "", err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, delim, envKey), nil); err != nil {
		return nil, "", oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil && len(opts.FlagKeys) > 0 {
		provider := posflag.ProviderWithFlag(opts.Flags, delim, k, func(f *pflag.Flag) (string, any) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, "", oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, "", oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}
	if opts.SkipValidation {
		return &cfg, path, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

// envKey maps CREDENTIALD_RESET__LINK_BASE to reset.link_base. A double
// underscore separates levels so single underscores survive in key names.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", delim)
}

func resolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", oops.Code("CONFIG_NOT_FOUND").With("path", explicit).Wrap(err)
		}
		return explicit, nil
	}

	def, err := xdg.ConfigFile()
	if err != nil {
		return "", nil //nolint:nilerr // no home directory means no default file
	}
	if _, err := os.Stat(def); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", oops.Code("CONFIG_LOAD_FAILED").With("path", def).Wrap(err)
	}
	return def, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateYAML(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// defaultsMap flattens Default() into koanf keys.
func defaultsMap() map[string]any {
	d := Default()
	return map[string]any{
		"http.addr":                     d.HTTP.Addr,
		"http.cors_origins":             d.HTTP.CORSOrigins,
		"http.shutdown_timeout_seconds": d.HTTP.ShutdownTimeoutSeconds,
		"metrics.addr":                  d.Metrics.Addr,
		"database.url":                  d.Database.URL,
		"database.max_conns":            d.Database.MaxConns,
		"database.max_retries":          d.Database.MaxRetries,
		"store.driver":                  d.Store.Driver,
		"store.auto_migrate":            d.Store.AutoMigrate,
		"tokens.signing_key":            d.Tokens.SigningKey,
		"reset.link_base":               d.Reset.LinkBase,
		"reset.replay_store":            d.Reset.ReplayStore,
		"reset.purge_interval_seconds":  d.Reset.PurgeIntervalSeconds,
		"redis.addr":                    d.Redis.Addr,
		"redis.password":                d.Redis.Password,
		"redis.db":                      d.Redis.DB,
		"redis.key_prefix":              d.Redis.KeyPrefix,
		"mail.driver":                   d.Mail.Driver,
		"mail.from_address":             d.Mail.FromAddress,
		"mail.timeout_seconds":          d.Mail.TimeoutSeconds,
		"mail.smtp.host":                d.Mail.SMTP.Host,
		"mail.smtp.port":                d.Mail.SMTP.Port,
		"mail.smtp.username":            d.Mail.SMTP.Username,
		"mail.smtp.password":            d.Mail.SMTP.Password,
		"mail.smtp.require_tls":         d.Mail.SMTP.RequireTLS,
		"hasher.memory_kib":             d.Hasher.MemoryKiB,
		"hasher.iterations":             d.Hasher.Iterations,
		"hasher.parallelism":            d.Hasher.Parallelism,
		"log.format":                    d.Log.Format,
		"log.level":                     d.Log.Level,
	}
}
