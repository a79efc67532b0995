package appconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Run("loads valid JSON config", func(t *testing.T) {
		path := writeConfig(t, "config.json", `{
  "port": 3000,
  "env": "development",
  "api-keys": ["test"],
  "rate-limit": 100,
  "verbose": true,
  "upstream-url": "https://example.com/",
  "poll-interval-ms": 5000
}`)
		fileCfg, err := LoadFromFile(path)
		require.NoError(t, err)

		cfg := fileCfg.ToAppConfig()
		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, Development, cfg.Env)
		assert.Equal(t, []string{"test"}, cfg.ApiKeys)
		assert.Equal(t, 100, cfg.RateLimit)
		assert.True(t, cfg.Verbose)
		assert.Equal(t, "https://example.com", cfg.UpstreamURL)
		assert.Equal(t, 5*time.Second, cfg.PollInterval)
		assert.Equal(t, DefaultDebounce, cfg.Debounce, "unset values keep their defaults")
	})

	t.Run("loads valid YAML config", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", `
port: 8080
env: production
api-keys:
  - key1
  - key2
rate-limit: 50
data-path: ":memory:"
cors-origins:
  - https://buszy.example
`)
		fileCfg, err := LoadFromFile(path)
		require.NoError(t, err)

		cfg := fileCfg.ToAppConfig()
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, Production, cfg.Env)
		assert.Equal(t, []string{"key1", "key2"}, cfg.ApiKeys)
		assert.Equal(t, ":memory:", cfg.DataPath)
		assert.Equal(t, []string{"https://buszy.example"}, cfg.CORSOrigins)
	})

	t.Run("fails on invalid values", func(t *testing.T) {
		path := writeConfig(t, "config.json", `{"port": 99999, "env": "staging"}`)
		cfg, err := LoadFromFile(path)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("fails on malformed JSON", func(t *testing.T) {
		path := writeConfig(t, "config.json", `{"port": `)
		cfg, err := LoadFromFile(path)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "failed to parse JSON config")
	})

	t.Run("fails on malformed YAML", func(t *testing.T) {
		path := writeConfig(t, "config.yml", "port: [unterminated")
		cfg, err := LoadFromFile(path)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "failed to parse YAML config")
	})

	t.Run("fails on nonexistent file", func(t *testing.T) {
		cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "failed to stat config file")
	})
}

func TestEnvFlagToEnvironment(t *testing.T) {
	assert.Equal(t, Production, EnvFlagToEnvironment("production"))
	assert.Equal(t, Test, EnvFlagToEnvironment("test"))
	assert.Equal(t, Development, EnvFlagToEnvironment("development"))
	assert.Equal(t, Development, EnvFlagToEnvironment("anything"))
	assert.Equal(t, "production", Production.String())
}
