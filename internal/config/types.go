package config

import "github.com/soyeahso/polyground/internal/request"

// Config is the root configuration for polyground.
type Config struct {
	Provider ProviderConfig   `yaml:"provider,omitempty"`
	Sampling request.Settings `yaml:"sampling"`
	Gateway  GatewayConfig    `yaml:"gateway,omitempty"`
	Logging  LoggingConfig    `yaml:"logging,omitempty"`
	Store    StoreConfig      `yaml:"store,omitempty"`
	Share    ShareConfig      `yaml:"share,omitempty"`
	Hooks    HooksConfig      `yaml:"hooks,omitempty"`
}

// ProviderConfig points at an OpenAI-compatible endpoint.
type ProviderConfig struct {
	BaseURL           string            `yaml:"baseUrl,omitempty"` // empty means https://api.openai.com/v1
	APIKey            string            `yaml:"apiKey,omitempty"`
	Organization      string            `yaml:"organization,omitempty"`
	TimeoutSeconds    int               `yaml:"timeoutSeconds,omitempty"`
	RequestsPerMinute int               `yaml:"requestsPerMinute,omitempty"` // 0 disables pacing
	Headers           map[string]string `yaml:"headers,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// StoreConfig selects where conversations are saved.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // defaults to <data>/polyground.db
}

// ShareConfig controls share links.
type ShareConfig struct {
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// HooksConfig defines command hooks per stream lifecycle event.
type HooksConfig struct {
	StreamStarted   []HookEntry `yaml:"streamStarted,omitempty"`
	StreamCompleted []HookEntry `yaml:"streamCompleted,omitempty"`
	StreamCancelled []HookEntry `yaml:"streamCancelled,omitempty"`
	StreamFailed    []HookEntry `yaml:"streamFailed,omitempty"`
	GatewayStart    []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop     []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// ByEvent returns the configured entries keyed by hook event name.
func (h HooksConfig) ByEvent() map[string][]HookEntry {
	return map[string][]HookEntry{
		"stream_started":   h.StreamStarted,
		"stream_completed": h.StreamCompleted,
		"stream_cancelled": h.StreamCancelled,
		"stream_failed":    h.StreamFailed,
		"gateway_start":    h.GatewayStart,
		"gateway_stop":     h.GatewayStop,
	}
}
