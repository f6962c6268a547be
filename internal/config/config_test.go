package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
environment: production
server:
  port: 9090
database:
  host: db
  user: referral
  password: from-file
  name: referrals
jwt:
  secret: file-secret
appointments:
  cancellation_cutoff: 90m
live_cache:
  backend: memory
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 90*time.Minute, cfg.Appointments.CancellationCutoff)
	assert.Equal(t, "memory", cfg.LiveCache.Backend)
	assert.True(t, cfg.IsProduction())

	// defaults
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, 4*time.Hour, cfg.Beds.ReservationTTL)
	assert.Equal(t, "ambulances/+/location", cfg.Telemetry.Topic)
}

func TestSecretsOverrideFile(t *testing.T) {
	t.Setenv("REFERRAL_JWT_SECRET", "env-secret")
	t.Setenv("REFERRAL_DB_PASSWORD", "env-password")

	cfg, err := LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, "env-password", cfg.Database.Password)
	assert.Contains(t, cfg.Database.DSN(), "password=env-password")
}

func TestMissingJWTSecret(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "server:\n  port: 8080\n"))
	assert.ErrorContains(t, err, "jwt.secret")
}

func TestInvalidLiveCacheBackend(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "jwt:\n  secret: x\nlive_cache:\n  backend: memcached\n"))
	assert.ErrorContains(t, err, "live_cache.backend")
}
