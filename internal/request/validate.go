package request

import (
	"fmt"

	"github.com/soyeahso/polyground/internal/chat"
)

// Provider limits for sampling parameters.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinPenalty     = -2.0
	MaxPenalty     = 2.0
	MaxStopEntries = 4
)

// CheckRanges validates the numeric sampling parameters. It does not
// require a model, so it also serves configuration files that leave the
// model to be chosen later.
func CheckRanges(s Settings) []Issue {
	var issues []Issue

	if s.Temperature < MinTemperature || s.Temperature > MaxTemperature {
		issues = append(issues, Issue{
			Field:   "temperature",
			Message: fmt.Sprintf("must be between %g and %g, got %g", MinTemperature, MaxTemperature, s.Temperature),
		})
	}
	if s.TopP < 0 || s.TopP > 1 {
		issues = append(issues, Issue{
			Field:   "topP",
			Message: fmt.Sprintf("must be between 0 and 1, got %g", s.TopP),
		})
	}
	if s.FrequencyPenalty < MinPenalty || s.FrequencyPenalty > MaxPenalty {
		issues = append(issues, Issue{
			Field:   "frequencyPenalty",
			Message: fmt.Sprintf("must be between %g and %g, got %g", MinPenalty, MaxPenalty, s.FrequencyPenalty),
		})
	}
	if s.PresencePenalty < MinPenalty || s.PresencePenalty > MaxPenalty {
		issues = append(issues, Issue{
			Field:   "presencePenalty",
			Message: fmt.Sprintf("must be between %g and %g, got %g", MinPenalty, MaxPenalty, s.PresencePenalty),
		})
	}
	if s.MaxTokens == 0 {
		issues = append(issues, Issue{
			Field:   "maxTokens",
			Message: "must be positive, or negative to leave unset",
		})
	}
	if len(s.Stop) > MaxStopEntries {
		issues = append(issues, Issue{
			Field:   "stop",
			Message: fmt.Sprintf("at most %d sequences allowed, got %d", MaxStopEntries, len(s.Stop)),
		})
	}
	for i, seq := range s.Stop {
		if seq == "" {
			issues = append(issues, Issue{
				Field:   fmt.Sprintf("stop[%d]", i),
				Message: "must not be empty",
			})
		}
	}

	return issues
}

func checkTools(tools []chat.Tool, choice chat.ToolChoice) []Issue {
	var issues []Issue

	names := make(map[string]bool, len(tools))
	for i, t := range tools {
		field := fmt.Sprintf("tools[%d]", i)
		if t.Type != chat.ToolCallTypeFunction {
			issues = append(issues, Issue{Field: field + ".type", Message: fmt.Sprintf("unsupported tool type %q", t.Type)})
		}
		if t.Function.Name == "" {
			issues = append(issues, Issue{Field: field + ".function.name", Message: "is required"})
			continue
		}
		if names[t.Function.Name] {
			issues = append(issues, Issue{Field: field + ".function.name", Message: fmt.Sprintf("duplicate tool %q", t.Function.Name)})
		}
		names[t.Function.Name] = true
	}

	// Without tools the choice is omitted from the request.
	if choice.IsAuto() || len(tools) == 0 {
		return issues
	}
	if name, ok := choice.Function(); ok && !names[name] {
		issues = append(issues, Issue{Field: "toolChoice", Message: fmt.Sprintf("function %q is not defined", name)})
	}
	return issues
}

func checkMessages(msgs []chat.Message) []Issue {
	if len(msgs) == 0 {
		return []Issue{{Field: "messages", Message: "at least one message is required"}}
	}
	var issues []Issue
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			issues = append(issues, Issue{Field: fmt.Sprintf("messages[%d]", i), Message: err.Error()})
		}
	}
	return issues
}
