package openai

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/soyeahso/polyground/internal/stream"
)

const maxEventSize = 1 << 20

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// eventSource reads "data:" events from a streamed response body and
// decodes each into a fragment. It implements stream.Source.
type eventSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	span    trace.Span

	fragments int
	closeOnce sync.Once
	done      bool
}

func newEventSource(body io.ReadCloser, span trace.Span) *eventSource {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventSize)
	return &eventSource{body: body, scanner: sc, span: span}
}

// Next returns the next fragment, or io.EOF after the [DONE] marker. A
// body that ends without the marker is also treated as the end.
func (s *eventSource) Next(ctx context.Context) (stream.Fragment, error) {
	for {
		if err := ctx.Err(); err != nil {
			return stream.Fragment{}, err
		}
		if s.done {
			return stream.Fragment{}, io.EOF
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				if ctx.Err() != nil {
					return stream.Fragment{}, ctx.Err()
				}
				return stream.Fragment{}, &stream.TransportError{Err: fmt.Errorf("reading stream: %w", err)}
			}
			s.done = true
			return stream.Fragment{}, io.EOF
		}

		line := bytes.TrimSpace(s.scanner.Bytes())
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(payload, doneMarker) {
			s.done = true
			return stream.Fragment{}, io.EOF
		}

		f, ok, err := decodeChunk(payload)
		if err != nil {
			return stream.Fragment{}, err
		}
		if !ok {
			continue
		}
		s.fragments++
		return f, nil
	}
}

// Close releases the response body and ends the request span.
func (s *eventSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		s.span.SetAttributes(attribute.Int("llm.fragments", s.fragments))
		s.span.End()
	})
	return err
}
