package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIntervals(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30, cfg.ProcessPollInterval)
	assert.Equal(t, 60, cfg.ShellHistoryPollInterval)
	assert.Equal(t, 300, cfg.BrowserPollInterval)
	assert.Equal(t, 60, cfg.GitPollInterval)
	assert.Equal(t, 15, cfg.ActivityWindowMinutes)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestClampEnforcesMinimums(t *testing.T) {
	cfg := Default()
	cfg.ProcessPollInterval = 1
	cfg.ShellHistoryPollInterval = 2
	cfg.BrowserPollInterval = 3
	cfg.ActivityWindowMinutes = 0
	cfg.GraphSaveInterval = -1

	cfg.clamp()

	assert.Equal(t, MinProcessPollSeconds, cfg.ProcessPollInterval)
	assert.Equal(t, MinShellPollSeconds, cfg.ShellHistoryPollInterval)
	assert.Equal(t, MinBrowserPollSeconds, cfg.BrowserPollInterval)
	assert.Equal(t, 1, cfg.ActivityWindowMinutes)
	assert.Equal(t, 300, cfg.GraphSaveInterval)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(EnvPrefix+"DATA_DIR", dataDir)
	t.Setenv(EnvPrefix+"LOG_LEVEL", "DEBUG")
	t.Setenv(EnvPrefix+"PROCESS_POLL_INTERVAL", "45")
	t.Setenv(EnvPrefix+"WATCH_PATHS", "/tmp/a, /tmp/b ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45, cfg.ProcessPollInterval)
	assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, cfg.WatchPaths)
}

func TestLoadIgnoresMalformedEnvInt(t *testing.T) {
	t.Setenv(EnvPrefix+"DATA_DIR", t.TempDir())
	t.Setenv(EnvPrefix+"PROCESS_POLL_INTERVAL", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.ProcessPollInterval)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(EnvPrefix+"DATA_DIR", dataDir)

	yaml := []byte("log_level: warn\nprocess_poll_interval: 120\nwatch_paths:\n  - /srv/code\n")
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), yaml, 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 120, cfg.ProcessPollInterval)
	assert.Equal(t, []string{"/srv/code"}, cfg.WatchPaths)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(EnvPrefix+"DATA_DIR", dataDir)
	t.Setenv(EnvPrefix+"PROCESS_POLL_INTERVAL", "90")

	yaml := []byte("process_poll_interval: 120\n")
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), yaml, 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.ProcessPollInterval)
}

func TestLoadRejectsMalformedConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(EnvPrefix+"DATA_DIR", dataDir)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte("{not yaml"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/hindsight"}

	assert.Equal(t, "/var/lib/hindsight/events.db", cfg.DatabasePath())
	assert.Equal(t, "/var/lib/hindsight/graph.db", cfg.GraphPath())
	assert.Equal(t, "/var/lib/hindsight/hindsight.log", cfg.LogPath())
	assert.Equal(t, "/var/lib/hindsight/hindsight.pid", cfg.PIDPath())
}

func TestIntervalDurations(t *testing.T) {
	cfg := &Config{
		ProcessPollInterval:      30,
		ShellHistoryPollInterval: 60,
		BrowserPollInterval:      300,
		GitPollInterval:          60,
	}

	assert.Equal(t, 30*time.Second, cfg.ProcessPoll())
	assert.Equal(t, time.Minute, cfg.ShellPoll())
	assert.Equal(t, 5*time.Minute, cfg.BrowserPoll())
	assert.Equal(t, time.Minute, cfg.GitPoll())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "code"), expandHome("~/code"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/absolute/path", expandHome("/absolute/path"))
}

func TestEnsureDataDir(t *testing.T) {
	cfg := &Config{DataDir: filepath.Join(t.TempDir(), "nested", "hindsight")}
	require.NoError(t, cfg.EnsureDataDir())

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
