// Package share encodes a chat setup into a URL and back, so a
// conversation can be reopened elsewhere with the same messages, tools and
// sampling settings.
package share

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/logging"
	"github.com/soyeahso/polyground/internal/request"
)

// DefaultBase is used when no base URL is configured.
const DefaultBase = "polyground://share"

// Query parameter names.
const (
	ParamMessages   = "messages"
	ParamTools      = "tools"
	ParamToolChoice = "tool_choice"
	ParamSettings   = "settings"
)

// State is the shareable part of a session.
type State struct {
	Messages   []chat.Message
	Tools      []chat.Tool
	ToolChoice chat.ToolChoice
	Settings   request.Settings
}

// Initial is the state of a fresh session.
func Initial() State {
	return State{
		Messages: chat.InitialMessages(),
		Settings: request.DefaultSettings(),
	}
}

// Encode builds a link from base. A parameter is included only when its
// value differs from the fresh-session value, so an untouched session
// encodes to the bare base.
func Encode(base string, s State) (string, error) {
	if base == "" {
		base = DefaultBase
	}
	init := Initial()
	q := url.Values{}

	if !messagesEqual(s.Messages, init.Messages) {
		if err := setJSON(q, ParamMessages, s.Messages); err != nil {
			return "", err
		}
	}
	if len(s.Tools) > 0 {
		if err := setJSON(q, ParamTools, s.Tools); err != nil {
			return "", err
		}
	}
	if !s.ToolChoice.IsAuto() {
		if err := setJSON(q, ParamToolChoice, s.ToolChoice); err != nil {
			return "", err
		}
	}
	if !s.Settings.Equal(init.Settings) {
		if err := setJSON(q, ParamSettings, s.Settings); err != nil {
			return "", err
		}
	}

	if len(q) == 0 {
		return base, nil
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode(), nil
}

// Decode restores the state from a link. Missing parameters keep their
// fresh-session values. A parameter that fails to parse is logged and
// ignored; only an unparsable URL is an error. Settings are merged onto
// the defaults, so a link may carry just the fields it changes.
func Decode(raw string, log *logging.Logger) (State, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return State{}, fmt.Errorf("parsing share link: %w", err)
	}
	q := u.Query()
	s := Initial()

	if v := q.Get(ParamMessages); v != "" {
		if msgs, err := decodeMessages(v); err != nil {
			warn(log, ParamMessages, err)
		} else {
			s.Messages = msgs
		}
	}
	if v := q.Get(ParamTools); v != "" {
		if tools, err := chat.ParseTools([]byte(v)); err != nil {
			warn(log, ParamTools, err)
		} else {
			s.Tools = tools
		}
	}
	if v := q.Get(ParamToolChoice); v != "" {
		var choice chat.ToolChoice
		if err := json.Unmarshal([]byte(v), &choice); err != nil {
			warn(log, ParamToolChoice, err)
		} else {
			s.ToolChoice = choice
		}
	}
	if v := q.Get(ParamSettings); v != "" {
		merged := request.DefaultSettings()
		if err := json.Unmarshal([]byte(v), &merged); err != nil {
			warn(log, ParamSettings, err)
		} else {
			if merged.Stop == nil {
				merged.Stop = []string{}
			}
			s.Settings = merged
		}
	}
	return s, nil
}

func decodeMessages(v string) ([]chat.Message, error) {
	var msgs []chat.Message
	if err := json.Unmarshal([]byte(v), &msgs); err != nil {
		return nil, err
	}
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	return msgs, nil
}

func setJSON(q url.Values, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	q.Set(key, string(data))
	return nil
}

func messagesEqual(a, b []chat.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func warn(log *logging.Logger, param string, err error) {
	if log == nil {
		return
	}
	log.Warn().Err(err).Str("param", param).Msg("ignoring invalid share parameter")
}
