package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Protocol)
	assert.Equal(t, "/tmp/zeus-ci.db", cfg.Database.Args)
	assert.Equal(t, "0.0.0.0", cfg.Listener.Address)
	assert.Equal(t, 4230, cfg.Listener.Port)
	assert.Equal(t, 4, cfg.BuildCoordinator.RunnerThreads)
	assert.Equal(t, 4, cfg.BuildCoordinator.ConcurrentBuilds)
	assert.Equal(t, 10, cfg.BuildCoordinator.BuildPollSec)
	assert.Equal(t, "localhost", cfg.ResourceAllocator.Address)
	assert.Equal(t, 18861, cfg.ResourceAllocator.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/tmp/zeus-ci", cfg.Workspace.Root)
	assert.Equal(t, "/etc/zeus-ci/builds", cfg.BuildLogDir)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
database:
  protocol: postgres
  args: postgres://zeus@localhost/zeus
listener:
  port: 9000
build_coordinator:
  runner_threads: 8
  build_poll_sec: 3
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Protocol)
	assert.Equal(t, "postgres://zeus@localhost/zeus", cfg.Database.Args)
	assert.Equal(t, 9000, cfg.Listener.Port)
	assert.Equal(t, 8, cfg.BuildCoordinator.RunnerThreads)
	assert.Equal(t, 3, cfg.BuildCoordinator.BuildPollSec)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched fields keep their defaults
	assert.Equal(t, 4, cfg.BuildCoordinator.ConcurrentBuilds)
}

func TestLogLevelEnvOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"),
		[]byte("listener: [not-a-mapping"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}
