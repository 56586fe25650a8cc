package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "brokerage.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval())
	assert.Equal(t, 3, cfg.Margin.GraceEvaluations)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: "9090"
margin:
  sweep_interval_seconds: 10
  grace_evaluations: 5
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval())
	assert.Equal(t, 5, cfg.Margin.GraceEvaluations)
	// Unset fields keep their defaults
	assert.Equal(t, "brokerage.db", cfg.Storage.SQLitePath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("MARGIN_SWEEP_INTERVAL", "30")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval())
}
