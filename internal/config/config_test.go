package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimal = `
database:
  host: localhost
  user: swiftdrop
  database: swiftdrop
rabbitmq:
  host: localhost
  user: guest
gateway:
  base_url: https://api.paystack.co
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.HTTP.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 250, cfg.Escrow.PlatformFeeBps)
	assert.Equal(t, 72*time.Hour, cfg.Escrow.AutoReleaseWindow)
	assert.Equal(t, 15*time.Minute, cfg.Delivery.AcceptWindow)
	assert.Equal(t, 3, cfg.Gateway.MaxRetries)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal+`
http:
  port: 8080
escrow:
  platform_fee_bps: 500
delivery:
  accept_window: 5m
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 500, cfg.Escrow.PlatformFeeBps)
	assert.Equal(t, 5*time.Minute, cfg.Delivery.AcceptWindow)
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_SECRET_KEY", "sk_test_abc")
	t.Setenv("DATABASE_PASSWORD", "hunter2")

	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)
	assert.Equal(t, "sk_test_abc", cfg.Gateway.SecretKey)
	assert.Equal(t, "hunter2", cfg.Database.Password)
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(writeConfig(t, `
rabbitmq:
  host: localhost
  user: guest
gateway:
  base_url: https://api.paystack.co
`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, minimal+`
escrow:
  platform_fee_bps: 20000
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
