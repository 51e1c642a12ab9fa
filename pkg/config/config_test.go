package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "learngraph.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 30*time.Minute, cfg.Graph.OpenWindow)
	assert.Equal(t, 500, cfg.Fingerprint.Window)
}

func TestLoad_File(t *testing.T) {
	p := writeConfig(t, `
db_path: /tmp/lg.db
timezone: America/New_York
graph:
  open_window: 45m
  quiz_bump: 0.05
fingerprint:
  cache_size: 0
notify:
  backend: nats
  url: nats://localhost:4222
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/lg.db", cfg.DBPath)
	assert.Equal(t, 45*time.Minute, cfg.Graph.OpenWindow)
	assert.Equal(t, 0.05, cfg.Graph.QuizBump)
	assert.Equal(t, 0.03, cfg.Graph.OpenBump, "unset keys keep defaults")
	assert.Equal(t, 0, cfg.Fingerprint.CacheSize)
	assert.Equal(t, BackendNATS, cfg.Notify.Backend)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDB, "/data/env.db")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvRedisAddr, "localhost:6379")
	t.Setenv(EnvTracePath, "/tmp/traces.jsonl")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/data/env.db", cfg.DBPath)
	assert.Equal(t, BackendRedis, cfg.Notify.Backend)
	assert.Equal(t, "localhost:6379", cfg.Notify.Addr)
	assert.Equal(t, "/tmp/traces.jsonl", cfg.Trace.Path)

	lvl, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "graph: [1, 2"},
		{"bad timezone", "timezone: Mars/Olympus"},
		{"bump out of range", "graph:\n  lens_bump: 1.5"},
		{"zero decay factor", "graph:\n  edge_decay_factor: 0"},
		{"unknown backend", "notify:\n  backend: kafka"},
		{"nats without url", "notify:\n  backend: nats"},
		{"bad log level", "log_level: loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultDBPath(t *testing.T) {
	dir := t.TempDir()

	t.Setenv(EnvDB, filepath.Join(dir, "explicit", "x.db"))
	p, err := DefaultDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "explicit", "x.db"), p)
	assert.DirExists(t, filepath.Join(dir, "explicit"))

	t.Setenv(EnvDB, "")
	t.Setenv("XDG_DATA_HOME", dir)
	p, err = DefaultDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "learngraph", "learngraph.db"), p)
}
