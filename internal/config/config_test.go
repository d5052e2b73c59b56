package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(200), cfg.Business.WelcomeCredit)
	assert.Equal(t, 30*time.Minute, cfg.Business.DefaultReservationTTL)
	assert.Equal(t, 5*time.Minute, cfg.Business.SweepInterval)
	assert.Equal(t, 100, cfg.Business.MaxPageSize)
	assert.Equal(t, uint(3), cfg.Retry.MaxTries)
	assert.Equal(t, int64(100), cfg.Payment.MinTopUpAmount)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
	assert.Empty(t, cfg.Payment.WebhookSecret)
	assert.False(t, cfg.Payment.AllowUnsignedWebhooks)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
server:
  port: 9090
redis:
  host: cache.internal
business:
  welcome_credit: 1000
  sweep_interval: 1m
kafka:
  brokers: ["k1:9092", "k2:9092"]
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv("WALLET_BUSINESS_WELCOME_CREDIT", "50")
	t.Setenv("WALLET_AUTH_JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(50), cfg.Business.WelcomeCredit)
	assert.Equal(t, time.Minute, cfg.Business.SweepInterval)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "cache.internal:6379", cfg.Redis.Addr())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Business.DefaultReservationTTL = time.Hour * 10
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Retry.MaxTries = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Business.WelcomeCredit = -1
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
