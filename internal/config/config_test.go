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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "baidu", cfg.Provider.Kind)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 0.85, cfg.Dedupe.SimilarityThreshold)
	assert.Equal(t, -1, cfg.Dedupe.HammingLimit())
	assert.Equal(t, 1e-5, cfg.Match.Tolerance)
	assert.Equal(t, 15, cfg.Match.WinDelta)
	assert.Equal(t, -10, cfg.Match.LoseDelta)
	assert.Equal(t, 3, cfg.Match.TieDelta)
	assert.Equal(t, 1500, cfg.Match.DefaultRating)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  driver: memory
provider:
  kind: local
  timeout: 3s
  local:
    models_dir: /models
dedupe:
  similarity_threshold: 0.9
  max_hamming: 0
match:
  win_delta: 20
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "local", cfg.Provider.Kind)
	assert.Equal(t, 3*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, "/models", cfg.Provider.Local.ModelsDir)
	assert.Equal(t, 0.9, cfg.Dedupe.SimilarityThreshold)
	assert.Equal(t, 0, cfg.Dedupe.HammingLimit())
	assert.Equal(t, 20, cfg.Match.WinDelta)
	assert.Equal(t, -10, cfg.Match.LoseDelta)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FACEPK_SERVER_PORT", "7000")
	t.Setenv("FACEPK_PROVIDER", "local")
	t.Setenv("FACEPK_DB_HOST", "db.internal")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Provider.Kind)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"driver":    "storage:\n  driver: sqlite\n",
		"provider":  "provider:\n  kind: aws\n",
		"threshold": "dedupe:\n  similarity_threshold: 1.5\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, Name: "n", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@h:5433/n?sslmode=disable", d.DSN())
}
