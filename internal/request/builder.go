// Package request turns a conversation and its sampling settings into an
// immutable chat-completion request descriptor.
package request

import (
	"encoding/json"

	"github.com/soyeahso/polyground/internal/chat"
)

// Descriptor is one outbound chat-completion request. It is built once per
// send and never mutated; accessors return copies.
type Descriptor struct {
	messages         []chat.Message
	tools            []chat.Tool
	toolChoice       *chat.ToolChoice
	model            string
	seed             *int
	temperature      float64
	topP             float64
	frequencyPenalty float64
	presencePenalty  float64
	maxTokens        *int
	stop             []string
	jsonMode         bool
	stream           bool
}

// Build validates the inputs and snapshots them into a Descriptor.
// Sentinel values are dropped here: a negative seed or max-token count, an
// empty stop list, an empty tool list, and an auto (or tool-less) tool
// choice are all omitted from the request.
func Build(msgs []chat.Message, tools []chat.Tool, choice chat.ToolChoice, s Settings) (*Descriptor, error) {
	var issues []Issue
	if s.Model == "" {
		issues = append(issues, Issue{Field: "model", Message: "is required"})
	}
	issues = append(issues, CheckRanges(s)...)
	issues = append(issues, checkMessages(msgs)...)
	issues = append(issues, checkTools(tools, choice)...)
	if len(issues) > 0 {
		return nil, &InvalidConfigurationError{Issues: issues}
	}

	d := &Descriptor{
		messages:         chat.CloneMessages(msgs),
		model:            s.Model,
		temperature:      s.Temperature,
		topP:             s.TopP,
		frequencyPenalty: s.FrequencyPenalty,
		presencePenalty:  s.PresencePenalty,
		jsonMode:         s.JSONMode,
		stream:           s.Stream,
	}
	if len(tools) > 0 {
		d.tools = cloneTools(tools)
		if !choice.IsAuto() {
			c := choice
			d.toolChoice = &c
		}
	}
	if s.Seed >= 0 {
		seed := s.Seed
		d.seed = &seed
	}
	if s.MaxTokens >= 0 {
		n := s.MaxTokens
		d.maxTokens = &n
	}
	if len(s.Stop) > 0 {
		d.stop = append([]string(nil), s.Stop...)
	}
	return d, nil
}

// Messages returns the message snapshot taken at build time.
func (d *Descriptor) Messages() []chat.Message { return chat.CloneMessages(d.messages) }

// Tools returns the tool definitions, or nil when none are sent.
func (d *Descriptor) Tools() []chat.Tool { return cloneTools(d.tools) }

// ToolChoice returns the tool-choice policy when it is sent.
func (d *Descriptor) ToolChoice() (chat.ToolChoice, bool) {
	if d.toolChoice == nil {
		return chat.ToolChoiceAuto, false
	}
	return *d.toolChoice, true
}

// Model returns the model id.
func (d *Descriptor) Model() string { return d.model }

// Seed returns the sampling seed when set.
func (d *Descriptor) Seed() (int, bool) {
	if d.seed == nil {
		return 0, false
	}
	return *d.seed, true
}

// Temperature returns the sampling temperature.
func (d *Descriptor) Temperature() float64 { return d.temperature }

// TopP returns the nucleus-sampling mass.
func (d *Descriptor) TopP() float64 { return d.topP }

// FrequencyPenalty returns the frequency penalty.
func (d *Descriptor) FrequencyPenalty() float64 { return d.frequencyPenalty }

// PresencePenalty returns the presence penalty.
func (d *Descriptor) PresencePenalty() float64 { return d.presencePenalty }

// MaxTokens returns the completion token cap when set.
func (d *Descriptor) MaxTokens() (int, bool) {
	if d.maxTokens == nil {
		return 0, false
	}
	return *d.maxTokens, true
}

// Stop returns the stop sequences, or nil when none are sent.
func (d *Descriptor) Stop() []string { return append([]string(nil), d.stop...) }

// JSONMode reports whether a JSON object response is requested.
func (d *Descriptor) JSONMode() bool { return d.jsonMode }

// Stream reports whether the response is streamed.
func (d *Descriptor) Stream() bool { return d.stream }

type responseFormat struct {
	Type string `json:"type"`
}

type wireRequest struct {
	Messages         []chat.Message   `json:"messages"`
	Model            string           `json:"model"`
	Tools            []chat.Tool      `json:"tools,omitempty"`
	ToolChoice       *chat.ToolChoice `json:"tool_choice,omitempty"`
	Seed             *int             `json:"seed,omitempty"`
	Temperature      float64          `json:"temperature"`
	TopP             float64          `json:"top_p"`
	MaxTokens        *int             `json:"max_tokens,omitempty"`
	Stop             []string         `json:"stop,omitempty"`
	FrequencyPenalty float64          `json:"frequency_penalty"`
	PresencePenalty  float64          `json:"presence_penalty"`
	Stream           bool             `json:"stream"`
	ResponseFormat   *responseFormat  `json:"response_format,omitempty"`
}

// MarshalJSON renders the OpenAI chat.completions request body.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	w := wireRequest{
		Messages:         d.messages,
		Model:            d.model,
		Tools:            d.tools,
		ToolChoice:       d.toolChoice,
		Seed:             d.seed,
		Temperature:      d.temperature,
		TopP:             d.topP,
		MaxTokens:        d.maxTokens,
		Stop:             d.stop,
		FrequencyPenalty: d.frequencyPenalty,
		PresencePenalty:  d.presencePenalty,
		Stream:           d.stream,
	}
	if d.jsonMode {
		w.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return json.Marshal(w)
}

func cloneTools(tools []chat.Tool) []chat.Tool {
	if tools == nil {
		return nil
	}
	out := make([]chat.Tool, len(tools))
	for i, t := range tools {
		out[i] = t
		if t.Function.Parameters != nil {
			out[i].Function.Parameters = append([]byte(nil), t.Function.Parameters...)
		}
	}
	return out
}
