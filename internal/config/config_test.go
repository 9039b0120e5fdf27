package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"POLYGROUND_BASE_URL", "POLYGROUND_API_KEY", "OPENAI_API_KEY", "POLYGROUND_MODEL",
		"POLYGROUND_GATEWAY_PORT", "POLYGROUND_GATEWAY_BIND", "POLYGROUND_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 120, cfg.Provider.TimeoutSeconds)
	assert.Equal(t, 18789, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 0.5, cfg.Sampling.Temperature)
	assert.Equal(t, -1, cfg.Sampling.Seed)
	assert.True(t, cfg.Sampling.Stream)
}

func TestLoadMissingFile(t *testing.T) {
	clearProviderEnv(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 18789, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	clearProviderEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
provider:
  baseUrl: http://localhost:11434/v1
  apiKey: sk-test
  requestsPerMinute: 30
  headers:
    X-Team: research
sampling:
  model: gpt-4o-mini
  temperature: 1.2
  stop: ["END"]
gateway:
  port: 9999
  bind: lan
  auth:
    mode: password
    password: secret123
logging:
  level: debug
  consoleStyle: json
store:
  driver: memory
hooks:
  streamCompleted:
    - command: "cat > /dev/null"
      timeout: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434/v1", cfg.Provider.BaseURL)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, 30, cfg.Provider.RequestsPerMinute)
	assert.Equal(t, 120, cfg.Provider.TimeoutSeconds)
	assert.Equal(t, "research", cfg.Provider.Headers["X-Team"])

	assert.Equal(t, "gpt-4o-mini", cfg.Sampling.Model)
	assert.Equal(t, 1.2, cfg.Sampling.Temperature)
	assert.Equal(t, []string{"END"}, cfg.Sampling.Stop)
	// Unset sampling keys keep their defaults.
	assert.Equal(t, 1.0, cfg.Sampling.TopP)
	assert.Equal(t, -1, cfg.Sampling.MaxTokens)
	assert.True(t, cfg.Sampling.Stream)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "password", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "memory", cfg.Store.Driver)

	require.Len(t, cfg.Hooks.StreamCompleted, 1)
	assert.Equal(t, 500, cfg.Hooks.StreamCompleted[0].Timeout)
	assert.Len(t, cfg.Hooks.ByEvent()["stream_completed"], 1)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("POLYGROUND_GATEWAY_PORT", "12345")
	t.Setenv("POLYGROUND_LOG_LEVEL", "TRACE")
	t.Setenv("POLYGROUND_MODEL", "gpt-4.1")
	t.Setenv("POLYGROUND_BASE_URL", "http://127.0.0.1:8080/v1")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "gpt-4.1", cfg.Sampling.Model)
	assert.Equal(t, "http://127.0.0.1:8080/v1", cfg.Provider.BaseURL)
}

func TestLoadAPIKeyFallback(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-from-openai")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-openai", cfg.Provider.APIKey)

	t.Setenv("POLYGROUND_API_KEY", "sk-from-polyground")
	cfg, err = Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-polyground", cfg.Provider.APIKey)
}

func TestLoadExpandsSecrets(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("PG_TEST_KEY", "sk-expanded")
	t.Setenv("PG_TEST_TOKEN", "tok-expanded")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
provider:
  apiKey: ${PG_TEST_KEY}
  headers:
    X-Token: Bearer ${PG_TEST_TOKEN}
    X-Unset: ${PG_TEST_UNSET_VAR}
gateway:
  auth:
    token: ${PG_TEST_TOKEN}
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-expanded", cfg.Provider.APIKey)
	assert.Equal(t, "Bearer tok-expanded", cfg.Provider.Headers["X-Token"])
	assert.Equal(t, "${PG_TEST_UNSET_VAR}", cfg.Provider.Headers["X-Unset"])
	assert.Equal(t, "tok-expanded", cfg.Gateway.Auth.Token)
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	raw := map[string]any{
		"gateway": map[string]any{
			"port": 9999,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)
}

func TestLoadRawMissingFile(t *testing.T) {
	raw, err := LoadRaw(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}
