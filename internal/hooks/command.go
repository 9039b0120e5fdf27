package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a hook command that sets no timeout.
const DefaultCommandTimeout = 10 * time.Second

// Command is a shell command run for an event. The payload is written to
// its stdin as JSON and POLYGROUND_EVENT is set in its environment.
type Command struct {
	Event   string
	Run     string
	Timeout time.Duration
}

// CommandHandler returns a Handler that runs cmd through "sh -c".
func CommandHandler(cmd Command) Handler {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	return func(ctx context.Context, p Payload) error {
		input, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding hook payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		c := exec.CommandContext(ctx, "sh", "-c", cmd.Run)
		c.Stdin = bytes.NewReader(input)
		c.Env = append(c.Environ(), "POLYGROUND_EVENT="+p.Event)
		var stderr bytes.Buffer
		c.Stderr = &stderr

		if err := c.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("hook command %q: %w: %s", cmd.Run, err, msg)
			}
			return fmt.Errorf("hook command %q: %w", cmd.Run, err)
		}
		return nil
	}
}

// RegisterCommands registers every command under the name "command:N".
// Commands for unknown events are rejected before any is registered.
func (m *Manager) RegisterCommands(cmds []Command) error {
	for _, c := range cmds {
		if !Known(c.Event) {
			return fmt.Errorf("unknown hook event %q", c.Event)
		}
		if strings.TrimSpace(c.Run) == "" {
			return fmt.Errorf("hook for %s has an empty command", c.Event)
		}
	}
	for i, c := range cmds {
		m.On(c.Event, fmt.Sprintf("command:%d", i), CommandHandler(c))
	}
	return nil
}
