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

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaults(), cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9400
database:
  path: /var/lib/scanmanager/tasks.db
  busy_timeout: 250ms
state_dir: /var/lib/scanmanager
log:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, "/var/lib/scanmanager/tasks.db", cfg.Database.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.BusyTimeout)
	assert.Equal(t, "/var/lib/scanmanager", cfg.StateDir)
	assert.Equal(t, "./reports", cfg.Reports.Directory)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0o600))
	_, err := Load(bad)
	assert.Error(t, err)

	level := filepath.Join(dir, "level.yaml")
	require.NoError(t, os.WriteFile(level, []byte("log:\n  level: chatty\n"), 0o600))
	_, err = Load(level)
	assert.Error(t, err)
}
