package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuePaths(issues []ValidationIssue) []string {
	paths := make([]string, len(issues))
	for i, issue := range issues {
		paths[i] = issue.Path
	}
	return paths
}

func TestValidate_ValidDefaults(t *testing.T) {
	cfg := Defaults()
	issues := Validate(&cfg)
	assert.Empty(t, issues)
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()

	cfg.Gateway.Port = -1
	issues := Validate(&cfg)
	assert.NotEmpty(t, issues)
	assert.Contains(t, issues[0].Path, "gateway.port")

	cfg.Gateway.Port = 70000
	issues = Validate(&cfg)
	assert.NotEmpty(t, issues)
}

func TestValidate_ValidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = 0
	assert.Empty(t, Validate(&cfg))

	cfg.Gateway.Port = 65535
	assert.Empty(t, Validate(&cfg))

	cfg.Gateway.Port = 8080
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidBind(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Bind = "invalid"
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "gateway.bind", issues[0].Path)
}

func TestValidate_ValidBinds(t *testing.T) {
	for _, bind := range []string{"auto", "lan", "loopback", ""} {
		cfg := Defaults()
		cfg.Gateway.Bind = bind
		assert.Empty(t, Validate(&cfg), "bind %q should be valid", bind)
	}
}

func TestValidate_CustomBindNeedsHost(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Bind = "custom"
	assert.Equal(t, []string{"gateway.customBindHost"}, issuePaths(Validate(&cfg)))

	cfg.Gateway.CustomBindHost = "10.0.0.5"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidAuthMode(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Auth.Mode = "oauth"
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "gateway.auth.mode", issues[0].Path)
}

func TestValidate_ValidAuthModes(t *testing.T) {
	for _, mode := range []string{"token", "password", ""} {
		cfg := Defaults()
		cfg.Gateway.Auth.Mode = mode
		assert.Empty(t, Validate(&cfg), "auth mode %q should be valid", mode)
	}
}

func TestValidate_TLSNeedsFiles(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.TLS.Enabled = true
	cfg.Gateway.TLS.CertPath = "/etc/polyground/cert.pem"
	assert.Equal(t, []string{"gateway.tls"}, issuePaths(Validate(&cfg)))

	cfg.Gateway.TLS.KeyPath = "/etc/polyground/key.pem"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Level = "verbose"
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "logging.level", issues[0].Path)
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"silent", "fatal", "error", "warn", "info", "debug", "trace", ""} {
		cfg := Defaults()
		cfg.Logging.Level = level
		assert.Empty(t, Validate(&cfg), "level %q should be valid", level)
	}
}

func TestValidate_InvalidConsoleStyle(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.ConsoleStyle = "fancy"
	issues := Validate(&cfg)
	require.Len(t, issues, 1)
	assert.Equal(t, "logging.consoleStyle", issues[0].Path)
}

func TestValidate_ValidConsoleStyles(t *testing.T) {
	for _, style := range []string{"pretty", "compact", "json", ""} {
		cfg := Defaults()
		cfg.Logging.ConsoleStyle = style
		assert.Empty(t, Validate(&cfg), "style %q should be valid", style)
	}
}

func TestValidate_InvalidStoreDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "postgres"
	assert.Equal(t, []string{"store.driver"}, issuePaths(Validate(&cfg)))
}

func TestValidate_ProviderFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"relative base url", func(c *Config) { c.Provider.BaseURL = "localhost/v1" }, "provider.baseUrl"},
		{"negative timeout", func(c *Config) { c.Provider.TimeoutSeconds = -5 }, "provider.timeoutSeconds"},
		{"negative rpm", func(c *Config) { c.Provider.RequestsPerMinute = -1 }, "provider.requestsPerMinute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Equal(t, []string{tt.path}, issuePaths(Validate(&cfg)))
		})
	}
}

func TestValidate_ValidBaseURL(t *testing.T) {
	cfg := Defaults()
	cfg.Provider.BaseURL = "http://localhost:11434/v1"
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_SamplingRanges(t *testing.T) {
	cfg := Defaults()
	cfg.Sampling.Temperature = 2.5
	cfg.Sampling.TopP = 1.5
	paths := issuePaths(Validate(&cfg))
	assert.Contains(t, paths, "sampling.temperature")
	assert.Contains(t, paths, "sampling.topP")
}

func TestValidate_SamplingModelOptional(t *testing.T) {
	cfg := Defaults()
	cfg.Sampling.Model = ""
	assert.Empty(t, Validate(&cfg))
}

func TestValidate_HookEntries(t *testing.T) {
	cfg := Defaults()
	cfg.Hooks.StreamFailed = []HookEntry{{Command: ""}, {Command: "true", Timeout: -1}}
	paths := issuePaths(Validate(&cfg))
	assert.ElementsMatch(t, []string{
		"hooks.stream_failed[0].command",
		"hooks.stream_failed[1].timeout",
	}, paths)
}

func TestValidate_MultipleIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -1
	cfg.Gateway.Bind = "bad"
	cfg.Logging.Level = "bad"
	issues := Validate(&cfg)
	assert.Len(t, issues, 3)
}

func TestValidationIssueString(t *testing.T) {
	issue := ValidationIssue{Path: "gateway.port", Message: "port must be 0-65535"}
	assert.Equal(t, "gateway.port: port must be 0-65535", issue.String())
}
