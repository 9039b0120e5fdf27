package chat

import (
	"encoding/json"
	"fmt"
)

// Tool is a function definition offered to the model.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function. Parameters holds a
// JSON Schema object and is passed through verbatim.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// FunctionTool builds a function tool definition.
func FunctionTool(name, description string, parameters json.RawMessage) Tool {
	return Tool{
		Type: ToolCallTypeFunction,
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// ParseTools decodes a JSON array of tool definitions. Missing types
// default to "function" and schemas must be JSON objects.
func ParseTools(data []byte) ([]Tool, error) {
	var tools []Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("chat: parsing tools: %w", err)
	}
	for i := range tools {
		if tools[i].Type == "" {
			tools[i].Type = ToolCallTypeFunction
		}
		if tools[i].Type != ToolCallTypeFunction {
			return nil, fmt.Errorf("chat: tool %d: unsupported type %q", i, tools[i].Type)
		}
		if tools[i].Function.Name == "" {
			return nil, fmt.Errorf("chat: tool %d: function name is required", i)
		}
		if len(tools[i].Function.Parameters) > 0 {
			var schema map[string]any
			if err := json.Unmarshal(tools[i].Function.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("chat: tool %q: parameters must be a JSON object: %w", tools[i].Function.Name, err)
			}
		}
	}
	return tools, nil
}
