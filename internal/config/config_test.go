package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("JWT_SECRET", "local-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvLocal, cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.True(t, cfg.Postgres.MigrateOnStart)
	assert.Empty(t, cfg.Payment.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("ENV", "prod")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CATALOG_CACHE_TTL", "30s")
	t.Setenv("MIGRATE_ON_START", "false")
	t.Setenv("JWT_SECRET", strings.Repeat("s", 32))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvProd, cfg.Env)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Catalog.CacheTTL)
	assert.False(t, cfg.Postgres.MigrateOnStart)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SMTP_FROM=shop@example.com\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	// godotenv sets variables for the whole process
	t.Cleanup(func() { os.Unsetenv("SMTP_FROM") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "shop@example.com", cfg.SMTP.From)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Env:         EnvProd,
			HTTP:        HTTP{Timeout: time.Second},
			Kafka:       Kafka{Brokers: []string{"k:9092"}},
			Auth:        Auth{JWTSecret: strings.Repeat("x", 32)},
			Idempotency: Idempotency{TTL: time.Hour},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: "JWT_SECRET is required"},
		{name: "short secret in prod", mutate: func(c *Config) { c.Auth.JWTSecret = "short" }, wantErr: "at least 32"},
		{name: "short secret in local", mutate: func(c *Config) { c.Env = EnvLocal; c.Auth.JWTSecret = "short" }},
		{name: "unknown env", mutate: func(c *Config) { c.Env = "staging" }, wantErr: "ENV must be one of"},
		{name: "no brokers", mutate: func(c *Config) { c.Kafka.Brokers = nil }, wantErr: "KAFKA_BROKERS"},
		{name: "zero ttl", mutate: func(c *Config) { c.Idempotency.TTL = 0 }, wantErr: "IDEMPOTENCY_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
