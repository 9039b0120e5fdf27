// Package session drives chat completions for one conversation: it builds
// requests, runs the stream aggregator and mirrors its transitions into
// the conversation.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/hooks"
	"github.com/soyeahso/polyground/internal/logging"
	"github.com/soyeahso/polyground/internal/request"
	"github.com/soyeahso/polyground/internal/stream"
)

// ErrBusy is returned by editing operations while a request is in flight.
var ErrBusy = errors.New("session: a request is in flight")

const errorBuffer = 16

// Options configures a Session.
type Options struct {
	Dispatcher stream.Dispatcher
	Hooks      *hooks.Manager
	Log        *logging.Logger
	Clock      func() time.Time
	Observers  []stream.Observer

	// OnTransition, when set, is called after the observers with the
	// conversation index of the assistant message being written.
	OnTransition func(index int, t stream.Transition)

	// AppendUserTurn adds an empty user message after every completed
	// streaming run, ready for the next prompt.
	AppendUserTurn bool

	Messages   []chat.Message
	Tools      []chat.Tool
	ToolChoice chat.ToolChoice
	Settings   *request.Settings
}

// Session owns one conversation and at most one in-flight request.
type Session struct {
	dispatcher     stream.Dispatcher
	hooks          *hooks.Manager
	log            *logging.Logger
	clock          func() time.Time
	appendUserTurn bool
	onIndexed      func(index int, t stream.Transition)

	conv *chat.Conversation
	ctrl stream.Controller
	errs chan error

	mu        sync.Mutex
	tools     []chat.Tool
	choice    chat.ToolChoice
	settings  request.Settings
	observers []stream.Observer
	gen       uint64
	agg       *stream.Aggregator
	done      chan struct{}
}

// New creates a session. Without explicit messages it starts from
// chat.InitialMessages and the default settings.
func New(opts Options) *Session {
	msgs := opts.Messages
	if msgs == nil {
		msgs = chat.InitialMessages()
	}
	settings := request.DefaultSettings()
	if opts.Settings != nil {
		settings = opts.Settings.Clone()
	}
	log := opts.Log
	if log == nil {
		log = logging.New(io.Discard, "silent")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Session{
		dispatcher:     opts.Dispatcher,
		hooks:          opts.Hooks,
		log:            log.Sub("session"),
		clock:          clock,
		appendUserTurn: opts.AppendUserTurn,
		onIndexed:      opts.OnTransition,
		conv:           chat.NewConversation(chat.CloneMessages(msgs)...),
		errs:           make(chan error, errorBuffer),
		tools:          append([]chat.Tool(nil), opts.Tools...),
		choice:         opts.ToolChoice,
		settings:       settings,
		observers:      append([]stream.Observer(nil), opts.Observers...),
	}
}

// Send builds a request from the current conversation and starts it in
// the background. A configuration problem is returned synchronously and
// nothing is sent. Any request still in flight is superseded. Progress is
// reported to observers; failures arrive on Errors.
func (s *Session) Send(ctx context.Context) error {
	s.mu.Lock()
	d, err := request.Build(s.conv.Messages(), s.tools, s.choice, s.settings)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	tok := s.ctrl.Fresh(ctx)
	s.gen++
	gen := s.gen
	index := s.conv.Append(chat.PlaceholderMessage())
	streaming := d.Stream()

	agg := stream.NewAggregator(
		stream.WithClock(s.clock),
		stream.WithObserver(stream.ObserverFunc(func(t stream.Transition) {
			s.onTransition(gen, index, streaming, t)
		})),
	)
	done := make(chan struct{})
	s.agg = agg
	s.done = done
	s.mu.Unlock()

	s.log.Debug().
		Str("model", d.Model()).
		Bool("stream", streaming).
		Int("messages", len(d.Messages())).
		Msg("dispatching")

	if err := agg.Dispatch(); err != nil {
		close(done)
		s.ctrl.Release(tok)
		return err
	}
	go s.pump(tok, agg, d, gen, done)
	return nil
}

func (s *Session) pump(tok *stream.Token, agg *stream.Aggregator, d *request.Descriptor, gen uint64, done chan struct{}) {
	defer close(done)
	defer s.ctrl.Release(tok)

	resp, err := s.dispatcher.Dispatch(tok.Context(), d)
	if tok.Aborted() {
		if resp != nil && resp.Stream != nil {
			resp.Stream.Close()
		}
		_ = agg.Cancel(tok.Reason())
		return
	}
	if err != nil {
		var te *stream.TransportError
		if !errors.As(err, &te) {
			err = &stream.TransportError{Err: err}
		}
		_ = agg.Fail(err)
		s.report(gen, err)
		return
	}

	if resp.Completion != nil {
		if err := agg.ApplyCompletion(*resp.Completion); err != nil {
			s.report(gen, err)
		}
		return
	}
	if resp.Stream == nil {
		err := &stream.TransportError{Err: errors.New("dispatcher returned an empty response")}
		_ = agg.Fail(err)
		s.report(gen, err)
		return
	}

	if err := agg.Run(tok, resp.Stream); err != nil && !stream.IsCancelled(err) {
		s.report(gen, err)
	}
}

// onTransition mirrors t into the conversation when gen is still the
// current run, then notifies observers and hooks.
func (s *Session) onTransition(gen uint64, index int, streaming bool, t stream.Transition) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if err := s.conv.Replace(index, t.Message); err != nil {
		s.log.Error().Err(err).Int("index", index).Msg("placeholder vanished")
	}
	if t.To == stream.StateCompleted && streaming && s.appendUserTurn {
		s.conv.Append(chat.UserMessage(""))
	}
	observers := make([]stream.Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, o := range observers {
		o.OnTransition(t)
	}
	if s.onIndexed != nil {
		s.onIndexed(index, t)
	}
	s.logTransition(t)
	s.emitHook(t)
}

func (s *Session) logTransition(t stream.Transition) {
	switch t.To {
	case stream.StateCompleted:
		ev := s.log.Info().Int("toolCalls", len(t.Message.ToolCalls))
		if t.Metrics != nil {
			if d, ok := t.Metrics.Duration(); ok {
				ev = ev.Dur("duration", d)
			}
			if t.Metrics.FragmentCount != nil {
				ev = ev.Int("fragments", *t.Metrics.FragmentCount)
			}
		}
		ev.Msg("completion finished")
	case stream.StateCancelled:
		s.log.Info().Err(t.Err).Msg("completion cancelled")
	case stream.StateFailed:
		s.log.Warn().Err(t.Err).Msg("completion failed")
	default:
		s.log.Debug().Stringer("from", t.From).Stringer("to", t.To).Msg("transition")
	}
}

func (s *Session) emitHook(t stream.Transition) {
	if s.hooks == nil || t.From == t.To {
		return
	}
	var event string
	data := map[string]any{"state": t.To.String()}

	switch t.To {
	case stream.StateDispatched:
		event = hooks.EventStreamStarted
		data["model"] = s.Settings().Model
	case stream.StateCompleted:
		event = hooks.EventStreamCompleted
		data["content"] = t.Message.Content.String()
		data["toolCalls"] = t.Message.ToolCalls
		if t.Metrics != nil {
			data["metrics"] = *t.Metrics
		}
	case stream.StateCancelled:
		event = hooks.EventStreamCancelled
		data["content"] = t.Message.Content.String()
		if t.Err != nil {
			data["reason"] = t.Err.Error()
		}
	case stream.StateFailed:
		event = hooks.EventStreamFailed
		if t.Err != nil {
			data["error"] = t.Err.Error()
		}
	default:
		return
	}
	s.hooks.EmitAsync(context.Background(), event, data)
}

func (s *Session) report(gen uint64, err error) {
	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()
	if !current {
		return
	}
	select {
	case s.errs <- err:
	default:
		s.log.Warn().Err(err).Msg("error channel full, dropping error")
	}
}

// Errors delivers asynchronous failures: malformed fragments and
// transport errors. Cancellations are not errors and never appear here.
func (s *Session) Errors() <-chan error { return s.errs }

// Abort cancels the in-flight request, keeping whatever was received. It
// reports whether anything was in flight.
func (s *Session) Abort() bool { return s.ctrl.Abort() }

// Wait blocks until the current run, if any, has ended.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyLocked()
}

func (s *Session) busyLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Subscribe adds an observer for the transitions of current and future runs.
func (s *Session) Subscribe(o stream.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Metrics returns the live metrics of the in-flight request.
func (s *Session) Metrics() (stream.Metrics, bool) {
	s.mu.Lock()
	agg := s.agg
	s.mu.Unlock()
	if agg == nil {
		return stream.Metrics{}, false
	}
	return agg.Metrics()
}

// State returns the aggregator state of the latest run, or StateIdle.
func (s *Session) State() stream.State {
	s.mu.Lock()
	agg := s.agg
	s.mu.Unlock()
	if agg == nil {
		return stream.StateIdle
	}
	return agg.State()
}

// Conversation returns the live conversation. Mutating it while a request
// is in flight may misplace the streamed message; prefer the editing
// methods on Session.
func (s *Session) Conversation() *chat.Conversation { return s.conv }

// Messages returns a copy of the conversation.
func (s *Session) Messages() []chat.Message { return s.conv.Messages() }

// Tools returns a copy of the tool definitions.
func (s *Session) Tools() []chat.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Tool(nil), s.tools...)
}

// SetTools replaces the tool definitions used by the next Send.
func (s *Session) SetTools(tools []chat.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append([]chat.Tool(nil), tools...)
}

// ToolChoice returns the current tool choice.
func (s *Session) ToolChoice() chat.ToolChoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.choice
}

// SetToolChoice sets the tool choice used by the next Send.
func (s *Session) SetToolChoice(c chat.ToolChoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.choice = c
}

// Settings returns a copy of the sampling settings.
func (s *Session) Settings() request.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Clone()
}

// SetSettings replaces the sampling settings. They are validated on Send.
func (s *Session) SetSettings(settings request.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings.Clone()
}

// Reset aborts any request and restores the initial conversation. Tools
// and settings are kept.
func (s *Session) Reset() {
	s.Restore(chat.InitialMessages(), s.Tools(), s.ToolChoice(), nil)
}

// Restore aborts any request, waits for it to wind down, then replaces
// the conversation and tools. A nil settings pointer keeps the current
// settings.
func (s *Session) Restore(msgs []chat.Message, tools []chat.Tool, choice chat.ToolChoice, settings *request.Settings) {
	s.ctrl.Abort()
	s.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.agg = nil
	s.conv.Reset(chat.CloneMessages(msgs)...)
	s.tools = append([]chat.Tool(nil), tools...)
	s.choice = choice
	if settings != nil {
		s.settings = settings.Clone()
	}
}
