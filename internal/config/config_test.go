package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "fs", cfg.StoreDriver)
	assert.Zero(t, cfg.DefaultWells)
	assert.Equal(t, 30*time.Second, cfg.AutosaveEvery)
	assert.Equal(t, 5, cfg.EstimateEvery)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "S3")
	t.Setenv("S3_BUCKET", "xtals")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("AUTOSAVE_INTERVAL", "45")
	t.Setenv("DEFAULT_WELL_COUNT", "96")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "s3", cfg.StoreDriver)
	assert.True(t, cfg.S3PathStyle)
	assert.Equal(t, 45*time.Second, cfg.AutosaveEvery)
	assert.Equal(t, 96, cfg.DefaultWells)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("STORE_DRIVER", "s3")
	_, err := Load()
	assert.Error(t, err, "s3 without a bucket")

	t.Setenv("STORE_DRIVER", "fs")
	t.Setenv("DEFAULT_WELL_COUNT", "100")
	_, err = Load()
	assert.Error(t, err)
}

func TestGetEnvAsIntFallsBack(t *testing.T) {
	t.Setenv("POLO_TEST_INT", "abc")
	assert.Equal(t, 7, getEnvAsInt("POLO_TEST_INT", 7))
}
