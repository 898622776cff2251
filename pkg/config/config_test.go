package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/config"
)

const sampleYAML = `
index:
  remote_url: https://git.example.com/index.git
  work_dir: /tmp/index
  https_username: registryd
metastore:
  driver: bolt
  bolt_path: /tmp/meta.db
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registryd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.ListenAddr)
	require.Equal(t, "main", cfg.Index.Branch)
	require.EqualValues(t, 64*1024, cfg.Auth.ArgonMemoryKiB)
	require.Equal(t, "bolt", cfg.Metastore.Driver)
	require.False(t, cfg.Mirror.Enabled)
}

func TestLoadRejectsMissingIndexRemote(t *testing.T) {
	path := writeConfig(t, `
index:
  work_dir: /tmp/index
  https_username: registryd
metastore:
  driver: bolt
  bolt_path: /tmp/meta.db
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownCredentialMode(t *testing.T) {
	path := writeConfig(t, `
index:
  remote_url: https://git.example.com/index.git
  work_dir: /tmp/index
  credential_mode: carrier_pigeon
metastore:
  driver: bolt
  bolt_path: /tmp/meta.db
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingRedisAddrForRedisDriver(t *testing.T) {
	path := writeConfig(t, `
index:
  remote_url: https://git.example.com/index.git
  work_dir: /tmp/index
  https_username: registryd
metastore:
  driver: redis
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadWithOptionsSkipValidation(t *testing.T) {
	path := writeConfig(t, `index: {}`)
	cfg, err := config.LoadWithOptions(path, config.LoadOptions{SkipValidation: true})
	require.NoError(t, err)
	require.Empty(t, cfg.Index.RemoteURL)
}

func TestLoadOverlaysEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("REGISTRYD_METASTORE_BOLT_PATH", "/tmp/overlaid.db")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/overlaid.db", cfg.Metastore.BoltPath)
}
