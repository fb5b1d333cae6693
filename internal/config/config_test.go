package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.PipTimeout())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
python_home: /opt/pyengine/python
log_level: WARNING
monitor_listen: "127.0.0.1:7979"
pip_timeout_sec: 60
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/pyengine/python", cfg.PythonHome)
	assert.Equal(t, "WARNING", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:7979", cfg.MonitorListen)
	assert.Equal(t, time.Minute, cfg.PipTimeout())
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFirstReadableWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.yaml")
	require.NoError(t, os.WriteFile(first, []byte("log_level: CRITICAL\n"), 0644))
	require.NoError(t, os.WriteFile(second, []byte("log_level: WARNING\n"), 0644))

	cfg, err := Load(filepath.Join(dir, "missing.yaml"), first, second)
	require.NoError(t, err)
	assert.Equal(t, "CRITICAL", cfg.LogLevel)
}
