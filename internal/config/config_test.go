// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavendrix/credentiald/pkg/errutil"
)

const testKey = "0123456789abcdef0123456789abcdef"

// isolate points XDG lookups at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(EnvPrefix+"TOKENS__SIGNING_KEY", testKey)
	return dir
}

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	cfg := Default()
	cfg.Tokens.SigningKey = testKey
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, path, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, ":5000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, "http://localhost:5173/reset-password", cfg.Reset.LinkBase)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, MailDriverSMTP, cfg.Mail.Driver)
	assert.Equal(t, "localhost", cfg.Mail.SMTP.Host)
	assert.Equal(t, 25, cfg.Mail.SMTP.Port)
	assert.Equal(t, testKey, cfg.Tokens.SigningKey)
}

func TestLoad_Layering(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, `
http:
  addr: ":6000"
  cors_origins: ["https://app.lavendrix.test", "https://*.preview.lavendrix.test"]
store:
  driver: memory
reset:
  replay_store: memory
mail:
  driver: smtp
  smtp:
    host: smtp.lavendrix.test
    port: 2525
log:
  level: debug
`)
	t.Setenv(EnvPrefix+"MAIL__SMTP__HOST", "smtp.env.test")
	t.Setenv(EnvPrefix+"LOG__LEVEL", "warn")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", ":5000", "")
	fs.String("log-level", "info", "")
	require.NoError(t, fs.Parse([]string{"--addr", ":7000"}))

	cfg, got, err := Load(LoadOptions{
		Path:     path,
		Flags:    fs,
		FlagKeys: map[string]string{"addr": "http.addr", "log-level": "log.level"},
	})
	require.NoError(t, err)
	assert.Equal(t, path, got)

	// flag beats file
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	// file beats defaults
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2525, cfg.Mail.SMTP.Port)
	assert.Len(t, cfg.HTTP.CORSOrigins, 2)
	// env beats file
	assert.Equal(t, "smtp.env.test", cfg.Mail.SMTP.Host)
	// an unchanged flag does not clobber env
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_XDGDefaultFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "credentiald"), 0o700))
	want := filepath.Join(dir, "credentiald", "config.yaml")
	require.NoError(t, os.WriteFile(want, []byte("http:\n  addr: \":8123\"\n"), 0o600))

	cfg, path, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, want, path)
	assert.Equal(t, ":8123", cfg.HTTP.Addr)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		explicit string
		wantCode string
	}{
		{name: "missing explicit file", explicit: "/nonexistent/credentiald.yaml", wantCode: "CONFIG_NOT_FOUND"},
		{name: "unknown key", body: "htpp:\n  addr: \":1\"\n", wantCode: "CONFIG_SCHEMA_INVALID"},
		{name: "wrong type", body: "mail:\n  smtp:\n    port: \"twenty\"\n", wantCode: "CONFIG_SCHEMA_INVALID"},
		{name: "bad enum", body: "store:\n  driver: mysql\n", wantCode: "CONFIG_SCHEMA_INVALID"},
		{name: "broken yaml", body: "http: [\n", wantCode: "CONFIG_YAML_INVALID"},
		{name: "semantic problem", body: "reset:\n  link_base: /relative\n", wantCode: "CONFIG_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := tt.explicit
			if path == "" {
				path = writeFile(t, dir, tt.body)
			}
			_, _, err := Load(LoadOptions{Path: path})
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestLoad_MissingSigningKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, _, err := Load(LoadOptions{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	assert.Contains(t, err.Error(), "tokens.signing_key")
}

func TestLoad_SkipValidation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvPrefix+"DATABASE__URL", "postgres://u:p@db:5432/creds")

	cfg, _, err := Load(LoadOptions{SkipValidation: true})
	require.NoError(t, err)
	assert.Empty(t, cfg.Tokens.SigningKey)
	assert.Equal(t, "postgres://u:p@db:5432/creds", cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"defaults with key", func(*Config) {}, ""},
		{"short key", func(c *Config) { c.Tokens.SigningKey = "short" }, "tokens.signing_key"},
		{"bad http addr", func(c *Config) { c.HTTP.Addr = "5000" }, "http.addr"},
		{"metrics disabled", func(c *Config) { c.Metrics.Addr = "" }, ""},
		{"unknown store", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver"},
		{"postgres replay needs postgres store", func(c *Config) {
			c.Store.Driver = StoreDriverMemory
		}, "reset.replay_store postgres"},
		{"redis replay needs addr", func(c *Config) {
			c.Reset.ReplayStore = ReplayStoreRedis
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"relative link base", func(c *Config) { c.Reset.LinkBase = "reset-password" }, "reset.link_base"},
		{"smtp without host", func(c *Config) { c.Mail.SMTP.Host = "" }, "mail.smtp.host"},
		{"log driver selected", func(c *Config) { c.Mail.Driver = MailDriverLog }, ""},
		{"bad from address", func(c *Config) { c.Mail.FromAddress = "nobody" }, "mail.from_address"},
		{"weak hasher", func(c *Config) { c.Hasher.Iterations = 0 }, "hasher"},
		{"hasher overflow", func(c *Config) { c.Hasher.Parallelism = 300 }, "hasher"},
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Tokens.SigningKey = ""
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	problems, ok := oopsErr.Context()["problems"].([]string)
	require.True(t, ok)
	assert.Len(t, problems, 2)
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "postgres://app:hunter2@db:5432/credentiald"
	cfg.Mail.SMTP.Password = "smtp-secret"

	out := cfg.Redacted()
	assert.Equal(t, "********", out.Tokens.SigningKey)
	assert.Equal(t, "********", out.Mail.SMTP.Password)
	assert.Empty(t, out.Redis.Password)
	assert.NotContains(t, out.Database.URL, "hunter2")
	assert.True(t, strings.HasPrefix(out.Database.URL, "postgres://app:"))
	// original untouched
	assert.Equal(t, testKey, cfg.Tokens.SigningKey)
}

func TestHasherParams(t *testing.T) {
	p := HasherConfig{MemoryKiB: 2048, Iterations: 3, Parallelism: 2}.Params()
	assert.Equal(t, uint32(2048), p.Memory)
	assert.Equal(t, uint32(3), p.Iterations)
	assert.Equal(t, uint8(2), p.Parallelism)
}
