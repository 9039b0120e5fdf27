package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/polyground/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestSafeEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"secret", "secret", true},
		{"secret", "wrong", false},
		{"short", "longer-string", false},
		{"", "", true},
		{"secret", "", false},
		{"", "secret", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, safeEqual(tt.a, tt.b), "safeEqual(%q, %q)", tt.a, tt.b)
	}
}

func TestResolveAuth(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.GatewayAuth
		env      map[string]string
		mode     string
		token    string
		password string
	}{
		{
			name:  "token from config",
			cfg:   config.GatewayAuth{Mode: "token", Token: "cfg-token"},
			mode:  "token",
			token: "cfg-token",
		},
		{
			name:     "password from config",
			cfg:      config.GatewayAuth{Mode: "password", Password: "cfg-pass"},
			mode:     "password",
			password: "cfg-pass",
		},
		{
			name:  "defaults to token mode",
			cfg:   config.GatewayAuth{Token: "t"},
			mode:  "token",
			token: "t",
		},
		{
			name:     "defaults to password mode when a password is set",
			cfg:      config.GatewayAuth{Password: "p"},
			mode:     "password",
			password: "p",
		},
		{
			name:  "token from environment",
			cfg:   config.GatewayAuth{Mode: "token"},
			env:   map[string]string{"POLYGROUND_GATEWAY_TOKEN": "env-token"},
			mode:  "token",
			token: "env-token",
		},
		{
			name:     "password from environment",
			cfg:      config.GatewayAuth{Mode: "password"},
			env:      map[string]string{"POLYGROUND_GATEWAY_PASSWORD": "env-pass"},
			mode:     "password",
			password: "env-pass",
		},
		{
			name:  "config wins over environment",
			cfg:   config.GatewayAuth{Mode: "token", Token: "cfg-token"},
			env:   map[string]string{"POLYGROUND_GATEWAY_TOKEN": "env-token"},
			mode:  "token",
			token: "cfg-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POLYGROUND_GATEWAY_TOKEN", "")
			t.Setenv("POLYGROUND_GATEWAY_PASSWORD", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			auth := ResolveAuth(tt.cfg)
			assert.Equal(t, tt.mode, auth.Mode)
			assert.Equal(t, tt.token, auth.Token)
			assert.Equal(t, tt.password, auth.Password)
		})
	}
}

func TestAuthorize(t *testing.T) {
	tokenAuth := ResolvedAuth{Mode: "token", Token: "secret"}
	passAuth := ResolvedAuth{Mode: "password", Password: "pass123"}

	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		ok     bool
		method string
		reason string
	}{
		{"token match", tokenAuth, &ConnectAuth{Token: "secret"}, true, "token", ""},
		{"token mismatch", tokenAuth, &ConnectAuth{Token: "wrong"}, false, "", "token_mismatch"},
		{"token missing", tokenAuth, &ConnectAuth{}, false, "", "token required"},
		{"server token unset", ResolvedAuth{Mode: "token"}, &ConnectAuth{Token: "x"}, false, "", "server token not configured"},
		{"password match", passAuth, &ConnectAuth{Password: "pass123"}, true, "password", ""},
		{"password mismatch", passAuth, &ConnectAuth{Password: "nope"}, false, "", "password_mismatch"},
		{"password missing", passAuth, &ConnectAuth{Token: "secret"}, false, "", "password required"},
		{"server password unset", ResolvedAuth{Mode: "password"}, &ConnectAuth{Password: "x"}, false, "", "server password not configured"},
		{"no credentials", tokenAuth, nil, false, "", "no credentials provided"},
		{"unknown mode", ResolvedAuth{Mode: "oauth"}, &ConnectAuth{Token: "x"}, false, "", "unknown auth mode: oauth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Authorize(tt.server, tt.client)
			assert.Equal(t, tt.ok, result.OK)
			assert.Equal(t, tt.method, result.Method)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestCheckWebSocketOrigin(t *testing.T) {
	request := func(origin string) *http.Request {
		req := httptest.NewRequest("GET", "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"nothing allowed", nil, "http://evil.com", false},
		{"wildcard", []string{"*"}, "http://anything.com", true},
		{"specific match", []string{"http://allowed.com"}, "http://allowed.com", true},
		{"specific mismatch", []string{"http://allowed.com"}, "http://evil.com", false},
		{"second of many", []string{"http://one.com", "http://two.com"}, "http://two.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkWebSocketOrigin(tt.allowed)(request(tt.origin)))
		})
	}
}
