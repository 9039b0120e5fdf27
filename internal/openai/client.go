// Package openai dispatches chat-completion requests to any endpoint that
// speaks the OpenAI HTTP API, streaming or not.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/soyeahso/polyground/internal/logging"
	"github.com/soyeahso/polyground/internal/request"
	"github.com/soyeahso/polyground/internal/stream"
	"github.com/soyeahso/polyground/internal/version"
)

// DefaultBaseURL is used when Options.BaseURL is empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// Options configures a Client.
type Options struct {
	BaseURL      string
	APIKey       string
	Organization string
	Headers      map[string]string

	// Timeout bounds the wait for response headers. Streams may run longer.
	Timeout time.Duration

	// RequestsPerMinute paces outbound requests; zero disables pacing.
	RequestsPerMinute int

	HTTPClient *http.Client
	Tracer     trace.Tracer
	Log        *logging.Logger
}

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	baseURL string
	apiKey  string
	org     string
	headers map[string]string
	http    *http.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
	log     *logging.Logger
}

// NewClient creates a client. The base URL should include the API version
// prefix, e.g. "http://localhost:11434/v1".
func NewClient(opts Options) *Client {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	hc := opts.HTTPClient
	if hc == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = opts.Timeout
		hc = &http.Client{Transport: tr}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("polyground/openai")
	}

	log := opts.Log
	if log == nil {
		log = logging.New(io.Discard, "silent")
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		org:     opts.Organization,
		headers: opts.Headers,
		http:    hc,
		limiter: limiter,
		tracer:  tracer,
		log:     log.Sub("openai"),
	}
}

// BaseURL returns the endpoint prefix requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// Dispatch sends d to /chat/completions. For streaming requests the
// returned Response carries a Source that reads the event stream; the
// caller must close it. Cancelling ctx aborts the request and any read in
// progress.
func (c *Client) Dispatch(ctx context.Context, d *request.Descriptor) (*stream.Response, error) {
	ctx, span := c.tracer.Start(ctx, "openai.chat_completion",
		trace.WithAttributes(
			attribute.String("llm.model", d.Model()),
			attribute.Bool("llm.stream", d.Stream()),
			attribute.Int("llm.messages", len(d.Messages())),
		))

	resp, err := c.post(ctx, "/chat/completions", d, d.Stream())
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	if d.Stream() {
		c.log.Debug().Str("model", d.Model()).Msg("stream opened")
		return &stream.Response{Stream: newEventSource(resp.Body, span)}, nil
	}

	defer resp.Body.Close()
	completion, err := decodeCompletion(resp.Body)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	return &stream.Response{Completion: completion}, nil
}

// ListModels returns the ids reported by GET /models, sorted.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "openai.list_models")

	resp, err := c.do(ctx, http.MethodGet, "/models", nil, false)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		err = &stream.TransportError{Err: fmt.Errorf("failed to parse model list: %w", err)}
		endSpan(span, err)
		return nil, err
	}

	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	span.SetAttributes(attribute.Int("llm.models", len(ids)))
	endSpan(span, nil)
	return ids, nil
}

func (c *Client) post(ctx context.Context, path string, body any, streaming bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, streaming)
}

// do sends the request and turns every failure into a TransportError. The
// body of a successful response is left open for the caller.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, streaming bool) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &stream.TransportError{Err: err}
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.org != "" {
		req.Header.Set("OpenAI-Organization", c.org)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &stream.TransportError{Err: fmt.Errorf("request failed: %w", err)}
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("api response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &stream.TransportError{
			StatusCode: resp.StatusCode,
			Body:       apiErrorMessage(respBody),
		}
	}
	return resp, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
