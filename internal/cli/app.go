package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/config"
	"github.com/soyeahso/polyground/internal/hooks"
	"github.com/soyeahso/polyground/internal/openai"
	"github.com/soyeahso/polyground/internal/store"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"
)

// newClient builds the API client for the configured provider. Spans go to
// the global OpenTelemetry tracer provider.
func newClient(c config.Config) *openai.Client {
	return openai.NewClient(openai.Options{
		BaseURL:           c.Provider.BaseURL,
		APIKey:            c.Provider.APIKey,
		Organization:      c.Provider.Organization,
		Headers:           c.Provider.Headers,
		Timeout:           time.Duration(c.Provider.TimeoutSeconds) * time.Second,
		RequestsPerMinute: c.Provider.RequestsPerMinute,
		Tracer:            otel.Tracer("github.com/soyeahso/polyground/internal/openai"),
		Log:               log,
	})
}

// openStore opens the conversation store. An empty store path means the
// default database under the data directory.
func openStore(c config.Config) (store.ConversationStore, io.Closer, error) {
	path := c.Store.Path
	if c.Store.Driver != store.DriverMemory {
		var err error
		if path == "" {
			path = paths.Database()
			err = paths.EnsureDirs()
		} else {
			err = os.MkdirAll(filepath.Dir(path), 0o700)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return store.OpenConversations(c.Store.Driver, path, log)
}

// hookCommands converts configured hooks into commands, ordered by event.
func hookCommands(h config.HooksConfig) []hooks.Command {
	byEvent := h.ByEvent()
	events := make([]string, 0, len(byEvent))
	for event := range byEvent {
		events = append(events, event)
	}
	sort.Strings(events)

	var cmds []hooks.Command
	for _, event := range events {
		for _, entry := range byEvent[event] {
			cmds = append(cmds, hooks.Command{
				Event:   event,
				Run:     entry.Command,
				Timeout: time.Duration(entry.Timeout) * time.Millisecond,
			})
		}
	}
	return cmds
}

// newHooks creates a hook manager with the configured command hooks.
func newHooks(c config.Config) (*hooks.Manager, error) {
	m := hooks.NewManager(log)
	if err := m.RegisterCommands(hookCommands(c.Hooks)); err != nil {
		return nil, fmt.Errorf("registering hooks: %w", err)
	}
	return m, nil
}

// loadTools reads tool definitions from a JSON or YAML file holding a
// list of tools in the chat-completions format.
func loadTools(path string) ([]chat.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("converting %s: %w", path, err)
		}
	}

	tools, err := chat.ParseTools(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tools, nil
}
