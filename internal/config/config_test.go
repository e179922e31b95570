package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrypster/statline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultHostIsLocalhost(t *testing.T) {
	_ = os.Unsetenv("STATLINE_HOST")
	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
}

func TestLoadConfig_CanOverrideHost(t *testing.T) {
	t.Setenv("STATLINE_HOST", "0.0.0.0")
	cfg, err := config.LoadConfig()
	assert.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 6464, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Registry.RefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.Registry.FailureBackoff)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 2048, cfg.Cache.Capacity)
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfig_DurationOverrides(t *testing.T) {
	t.Setenv("STATLINE_REGISTRY_REFRESH_INTERVAL", "90s")
	t.Setenv("STATLINE_BACKEND_TIMEOUT", "not-a-duration")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Registry.RefreshInterval)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout,
		"unparseable durations fall back to the default")
}

func TestLoadConfig_BoolAndIntFallbacks(t *testing.T) {
	t.Setenv("STATLINE_WATCH_DOMAINS_FILE", "no")
	t.Setenv("STATLINE_CACHE_CAPACITY", "lots")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.False(t, cfg.Storage.WatchDomainsFile)
	assert.Equal(t, 2048, cfg.Cache.Capacity)
}

const sampleDomains = `
default_domain: baseball
domains:
  - name: Baseball
    display_name: MLB
    enabled: true
    keywords: [Baseball, MLB]
    store: {type: sqlite, path: data/baseball.db}
    backend:
      base_url: http://localhost:8081
      timeout: 3s
      endpoints: {get_team_roster: teams/roster}
  - name: hockey
    enabled: true
    backend: {base_url: http://localhost:8082}
  - name: fantasy
    enabled: false
`

func TestParseDomains(t *testing.T) {
	df, err := config.ParseDomains([]byte(sampleDomains))
	require.NoError(t, err)

	assert.Equal(t, "baseball", df.DefaultDomain)
	require.Len(t, df.Domains, 3)

	bb, ok := df.Lookup("BASEBALL")
	require.True(t, ok)
	assert.Equal(t, "MLB", bb.DisplayName)
	assert.Equal(t, []string{"baseball", "mlb"}, bb.Keywords)
	assert.Equal(t, 3*time.Second, bb.Backend.Timeout)
	assert.Equal(t, "/tools", bb.Backend.SchemaPath)
	assert.Equal(t, "teams/roster", bb.Backend.Endpoints["get_team_roster"])

	hockey, ok := df.Lookup("hockey")
	require.True(t, ok)
	assert.Equal(t, config.StoreTypeSQLite, hockey.Store.Type)
	assert.Equal(t, "hockey.db", hockey.Store.Path)

	enabled := df.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "baseball", enabled[0].Name)
}

func TestParseDomains_Errors(t *testing.T) {
	cases := map[string]string{
		"duplicate": `
domains:
  - {name: baseball, enabled: true, backend: {base_url: http://a}}
  - {name: Baseball, enabled: true, backend: {base_url: http://b}}`,
		"missing base url": `
domains:
  - {name: baseball, enabled: true}`,
		"unknown store": `
domains:
  - {name: baseball, enabled: true, store: {type: mongo}, backend: {base_url: http://a}}`,
		"postgres without dsn": `
domains:
  - {name: baseball, enabled: true, store: {type: postgresql}, backend: {base_url: http://a}}`,
		"bad default": `
default_domain: cricket
domains:
  - {name: baseball, enabled: true, backend: {base_url: http://a}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParseDomains([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := config.ParseDomains([]byte("domains: []"))
	assert.ErrorIs(t, err, config.ErrNoDomains)
}

func TestLoadDomainsFile_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "domains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDomains), 0o600))

	df, err := config.LoadDomainsFile(path)
	require.NoError(t, err)

	bb, _ := df.Lookup("baseball")
	assert.Equal(t, filepath.Join(dir, "data", "baseball.db"), bb.Store.Path)
}

func TestLoadDomainsFile_Missing(t *testing.T) {
	_, err := config.LoadDomainsFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
