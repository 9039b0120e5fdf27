package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/stream"
)

// chunk is one streamed event payload.
type chunk struct {
	Choices []struct {
		Index        int             `json:"index"`
		Delta        stream.Fragment `json:"delta"`
		FinishReason *string         `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

// completionBody is a non-streamed response.
type completionBody struct {
	Choices []struct {
		Message struct {
			Role      string          `json:"role"`
			Content   *string         `json:"content"`
			ToolCalls []chat.ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// decodeChunk turns an event payload into a fragment. ok is false for
// payloads that carry no choice, such as trailing usage reports.
func decodeChunk(data []byte) (f stream.Fragment, ok bool, err error) {
	var c chunk
	if err := json.Unmarshal(data, &c); err != nil {
		return f, false, &stream.TransportError{Err: fmt.Errorf("failed to parse stream chunk: %w", err)}
	}
	if c.Error != nil {
		return f, false, &stream.TransportError{Body: c.Error.Message}
	}
	if len(c.Choices) == 0 {
		return f, false, nil
	}
	choice := c.Choices[0]
	f = choice.Delta
	if choice.FinishReason != nil {
		f.FinishReason = *choice.FinishReason
	}
	return f, true, nil
}

func decodeCompletion(r io.Reader) (*stream.Completion, error) {
	var body completionBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, &stream.TransportError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if body.Error != nil {
		return nil, &stream.TransportError{Body: body.Error.Message}
	}
	if len(body.Choices) == 0 {
		return nil, &stream.TransportError{Err: fmt.Errorf("response has no choices")}
	}

	choice := body.Choices[0]
	out := &stream.Completion{
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for i := range out.ToolCalls {
		if out.ToolCalls[i].Type == "" {
			out.ToolCalls[i].Type = chat.ToolCallTypeFunction
		}
	}
	return out, nil
}

// apiErrorMessage extracts error.message from an error body, falling back
// to the raw text.
func apiErrorMessage(body []byte) string {
	var wrapper struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	return strings.TrimSpace(string(body))
}
