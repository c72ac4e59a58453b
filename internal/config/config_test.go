package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  host: localhost
  name: faceid
  user: faceid
  password: secret
`))
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 20, cfg.Database.MaxConns)
	assert.Equal(t, 512, cfg.Index.Dimension)
	assert.Equal(t, 16, cfg.Index.M)
	assert.Equal(t, 200, cfg.Index.EFConstruction)
	assert.Equal(t, 0.70, cfg.Engine.PersonMatchThreshold)
	assert.Equal(t, 0.83, cfg.Engine.AutoAssignThreshold)
	assert.Equal(t, 0.62, cfg.Engine.SuggestionThreshold)
	assert.Equal(t, 0.30, cfg.Engine.ClusterEpsilon)
	assert.Equal(t, 3, cfg.Engine.MinClusterSize)
	assert.Equal(t, 2, cfg.Engine.MinSamples)
	assert.Equal(t, 0.05, cfg.Engine.CentroidTrimSmall)
	assert.Equal(t, 0.10, cfg.Engine.CentroidTrimLarge)
	assert.Equal(t, 20000, cfg.Engine.MaxFacesPerRun)
	assert.Equal(t, 5, cfg.Engine.MaxExemplars)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":8082", cfg.Metrics.Addr)
}

func TestLoadValuesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  host: db.internal
  port: 5433
engine:
  auto_assign_threshold: 0.9
  suggestion_threshold: 0.55
  cluster_epsilon: 0.25
index:
  dimension: 128
`))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 0.9, cfg.Engine.AutoAssignThreshold)
	assert.Equal(t, 0.55, cfg.Engine.SuggestionThreshold)
	assert.Equal(t, 0.25, cfg.Engine.ClusterEpsilon)
	assert.Equal(t, 128, cfg.Index.Dimension)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FACEID_DB_HOST", "env-host")
	t.Setenv("FACEID_DB_PORT", "6432")
	t.Setenv("FACEID_NATS_URL", "nats://env:4222")
	t.Setenv("FACEID_MODEL_VERSION", "w600k_r100")
	t.Setenv("FACEID_SUGGESTION_WORKERS", "8")

	cfg, err := Load(writeConfig(t, `
database:
  host: file-host
  port: 5433
`))
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "w600k_r100", cfg.Engine.ModelVersion)
	assert.Equal(t, 8, cfg.Engine.SuggestionWorkers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "localhost", Port: 5432, Name: "faceid", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@localhost:5432/faceid?sslmode=disable", d.DSN())
}
