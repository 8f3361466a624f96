package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsInDevelopment(t *testing.T) {
	t.Setenv("HERMES_LOG_DEVELOPMENT", "true")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "5003", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, "development-secret", cfg.JWT.Secret)
	assert.Equal(t, 256, cfg.WS.SendBuffer)
	assert.Empty(t, cfg.Redis.Addr)
	assert.True(t, cfg.Limits.Enabled)
	assert.Equal(t, Limit{Max: 5, Window: 15 * time.Minute}, cfg.Limits.Auth)
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	t.Setenv("HERMES_LOG_DEVELOPMENT", "false")
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	assert.ErrorIs(t, err, ErrMissingJWTSecret)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "6000"
database:
  driver: memory
jwt:
  secret: from-file
  access_ttl: 5m
kafka:
  brokers: ["k1:9092", "k2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("HERMES_REDIS_ADDR", "localhost:6379")
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port, "legacy PORT wins")
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}
