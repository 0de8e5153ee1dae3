package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "resen_", cfg.Container.Prefix)
	assert.Equal(t, "bash", cfg.Container.Command)
	assert.Equal(t, "jovyan", cfg.Container.User)
	assert.Equal(t, 5*time.Minute, cfg.Docker.ConnectTimeout)
	assert.Equal(t, time.Second, cfg.Progress.Interval)
	assert.Equal(t, "earthcubeingeo/resen-lite", cfg.Export.Repository)
	assert.NotEmpty(t, cfg.State.File)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resen.yaml")
	content := `docker:
  host: unix:///tmp/docker.sock
  connectTimeout: 30s
container:
  prefix: ws_
settle:
  interval: 10ms
  timeout: 2s
export:
  repository: example/exports
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "unix:///tmp/docker.sock", cfg.Docker.Host)
	assert.Equal(t, 30*time.Second, cfg.Docker.ConnectTimeout)
	assert.Equal(t, "ws_", cfg.Container.Prefix)
	assert.Equal(t, "bash", cfg.Container.Command)
	assert.Equal(t, 10*time.Millisecond, cfg.Settle.Interval)
	assert.Equal(t, 2*time.Second, cfg.Settle.Timeout)
	assert.Equal(t, "example/exports", cfg.Export.Repository)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("RESEN_CONTAINER_USER", "root")
	t.Setenv("RESEN_EXPORT_REPOSITORY", "env/exports")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "root", cfg.Container.User)
	assert.Equal(t, "env/exports", cfg.Export.Repository)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resen.yaml")
	content := `settle:
  interval: 5s
  timeout: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
