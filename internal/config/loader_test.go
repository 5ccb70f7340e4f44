package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))
}

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.Equal(t, DefaultIdPRoot, cfg.IdPRoot)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
base_url: https://admin.stg.fedoraproject.org/pkgdb
timeout: 30
retries: 2
oidc:
  client_id: my-tool
  scopes:
    - read
    - write
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://admin.stg.fedoraproject.org/pkgdb", cfg.BaseURL)
	assert.Equal(t, 30, cfg.Timeout)
	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, "my-tool", cfg.OIDC.ClientID)
	assert.Equal(t, []string{"read", "write"}, cfg.OIDC.Scopes)

	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultIdPRoot, cfg.IdPRoot)
	assert.Equal(t, DefaultOIDCIdP, cfg.OIDC.IdPURL)
	assert.Equal(t, DefaultApp, cfg.OIDC.App)
}

func TestLoadConfig_MalformedFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base_url: [not: valid")

	_, err := LoadConfig(dir)
	require.Error(t, err)
}

func TestLoadConfig_NegativeTimeoutRejected(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "timeout: -5")

	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestLoadConfig_NegativeRetriesMeansUnbounded(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "retries: -1")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.Retries)
}
