package request

import (
	"fmt"
	"strings"
)

// Issue describes one rejected request parameter.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// InvalidConfigurationError is returned by Build when the conversation or
// sampling settings cannot be sent. The request is never dispatched.
type InvalidConfigurationError struct {
	Issues []Issue
}

func (e *InvalidConfigurationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}
