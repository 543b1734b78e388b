package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chtmp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chtmp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "catalog.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "https://query.wikidata.org/sparql", cfg.KB.QueryEndpoint)
	assert.Equal(t, 103442925, cfg.KB.BlocklistPageID)
	assert.Equal(t, 30, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 500, cfg.TMDb.MaxIDLookups)
	assert.Equal(t, "us", cfg.ITunes.Country)
	assert.Equal(t, "https://api.opencritic.com/api", cfg.OpenCritic.BaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chtmp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/catalog
kb:
  blocklist_file: /etc/catalog/blocklist.yaml
tmdb:
  api_key: secret
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/catalog", cfg.Store.DatabaseURL)
	assert.Equal(t, "/etc/catalog/blocklist.yaml", cfg.KB.BlocklistFile)
	assert.Equal(t, "secret", cfg.TMDb.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply to untouched keys.
	assert.Equal(t, "us", cfg.ITunes.Country)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
