package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 5*time.Minute, cfg.SettingsCacheTTL)
	assert.False(t, cfg.OverdueSweepEnabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("OVERDUE_SWEEP_ENABLED", "true")
	t.Setenv("OVERDUE_SWEEP_INTERVAL", "15m")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.True(t, cfg.OverdueSweepEnabled)
	assert.Equal(t, 15*time.Minute, cfg.OverdueSweepInterval)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SQLITE_PATH=/tmp/from-dotenv.db\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SQLITE_PATH") })

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.SQLitePath)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err, "a missing file is not an error")
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	_, err := config.Load("")
	assert.Error(t, err)
}
