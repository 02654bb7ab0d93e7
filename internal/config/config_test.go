package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "donor-finder", cfg.AppName)
	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.WebSocketPath)
	assert.Equal(t, "redis", cfg.Geo.Backend)
	assert.Equal(t, 10000.0, cfg.Geo.DefaultRadiusMeters)
	assert.Equal(t, 74.3587, cfg.Geo.RepairLongitude)
	assert.Equal(t, 31.5204, cfg.Geo.RepairLatitude)
	assert.False(t, cfg.Geo.RepairOnSync)
	assert.Equal(t, 50, cfg.Notifications.ListLimit)
	assert.Equal(t, 200*time.Millisecond, cfg.Notifications.RetryBackoff)
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiry)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GEO_BACKEND", "sql")
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sql", cfg.Geo.Backend)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.True(t, cfg.Kafka.Enabled)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
GEO:
  BACKEND: mongo
  DEFAULT_RADIUS_METERS: 2500
MONGO:
  DATABASE: donors_test
NOTIFICATIONS:
  LIST_LIMIT: 20
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mongo", cfg.Geo.Backend)
	assert.Equal(t, 2500.0, cfg.Geo.DefaultRadiusMeters)
	assert.Equal(t, "donors_test", cfg.Mongo.Database)
	assert.Equal(t, 20, cfg.Notifications.ListLimit)
	// untouched keys keep their defaults
	assert.Equal(t, "donor_locations", cfg.Mongo.Collection)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// chdir switches the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
