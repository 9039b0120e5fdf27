package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Tool-choice modes.
const (
	ToolChoiceModeAuto     = "auto"
	ToolChoiceModeNone     = "none"
	ToolChoiceModeRequired = "required"
)

// ToolChoice is either a mode ("auto", "none", "required") or a specific
// function the model must call. The zero value is auto.
type ToolChoice struct {
	mode     string
	function string
}

var (
	ToolChoiceAuto     = ToolChoice{}
	ToolChoiceNone     = ToolChoice{mode: ToolChoiceModeNone}
	ToolChoiceRequired = ToolChoice{mode: ToolChoiceModeRequired}
)

// ToolChoiceFunction forces a call to the named function.
func ToolChoiceFunction(name string) ToolChoice {
	return ToolChoice{function: name}
}

// ParseToolChoice interprets a mode keyword or, failing that, a function name.
func ParseToolChoice(s string) ToolChoice {
	switch s {
	case "", ToolChoiceModeAuto:
		return ToolChoiceAuto
	case ToolChoiceModeNone:
		return ToolChoiceNone
	case ToolChoiceModeRequired:
		return ToolChoiceRequired
	default:
		return ToolChoiceFunction(s)
	}
}

// IsAuto reports whether the model decides on its own.
func (c ToolChoice) IsAuto() bool { return c.mode == "" && c.function == "" }

// Function returns the forced function name, if any.
func (c ToolChoice) Function() (string, bool) {
	if c.function == "" {
		return "", false
	}
	return c.function, true
}

// Mode returns the mode keyword, or "function" for a forced function.
func (c ToolChoice) Mode() string {
	switch {
	case c.function != "":
		return ToolCallTypeFunction
	case c.mode == "":
		return ToolChoiceModeAuto
	default:
		return c.mode
	}
}

func (c ToolChoice) String() string {
	if c.function != "" {
		return "function:" + c.function
	}
	return c.Mode()
}

type toolChoiceFunction struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

// MarshalJSON encodes modes as strings and forced functions as objects.
func (c ToolChoice) MarshalJSON() ([]byte, error) {
	if c.function == "" {
		return json.Marshal(c.Mode())
	}
	var v toolChoiceFunction
	v.Type = ToolCallTypeFunction
	v.Function.Name = c.function
	return json.Marshal(v)
}

// UnmarshalJSON accepts either representation.
func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = ToolChoiceAuto
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("chat: tool_choice: %w", err)
		}
		switch s {
		case ToolChoiceModeAuto:
			*c = ToolChoiceAuto
		case ToolChoiceModeNone:
			*c = ToolChoiceNone
		case ToolChoiceModeRequired:
			*c = ToolChoiceRequired
		default:
			return fmt.Errorf("chat: tool_choice: unknown mode %q", s)
		}
		return nil
	}

	var v toolChoiceFunction
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fmt.Errorf("chat: tool_choice: %w", err)
	}
	if v.Type != ToolCallTypeFunction || v.Function.Name == "" {
		return fmt.Errorf("chat: tool_choice: expected {type: function, function: {name}}")
	}
	*c = ToolChoiceFunction(v.Function.Name)
	return nil
}
