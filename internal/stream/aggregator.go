// Package stream folds a chat-completion response, streamed or not, into
// a single assistant message through an explicit state machine.
package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/soyeahso/polyground/internal/chat"
)

// Transition describes one state change together with the message and
// metrics as they stood right after it.
type Transition struct {
	From    State
	To      State
	Message chat.Message
	Metrics *Metrics
	Err     error
}

// Observer receives every transition in order.
type Observer interface {
	OnTransition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now for metrics.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.metrics = NewTracker(now) }
}

// WithObserver subscribes o before the first transition.
func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observers = append(a.observers, o) }
}

// Aggregator owns the in-progress assistant message of one request.
//
// Transition functions are meant to be driven by a single goroutine (Run
// does this); observers are notified on that goroutine in transition
// order. Message, Metrics and State may be read from any goroutine and
// never observe a half-applied fragment.
type Aggregator struct {
	mu        sync.Mutex
	state     State
	msg       chat.Message
	metrics   *Tracker
	observers []Observer
}

// NewAggregator creates an idle aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{metrics: NewTracker(nil)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Subscribe adds an observer for subsequent transitions.
func (a *Aggregator) Subscribe(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

// State returns the current state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Message returns a copy of the in-progress or finalized message.
func (a *Aggregator) Message() chat.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.msg.Clone()
}

// Metrics returns the live metrics snapshot, if any.
func (a *Aggregator) Metrics() (Metrics, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics.Snapshot()
}

// Dispatch moves Idle to Dispatched, resets the message to an empty
// assistant placeholder and starts the metrics clock.
func (a *Aggregator) Dispatch() error {
	a.mu.Lock()
	if a.state != StateIdle {
		defer a.mu.Unlock()
		return a.invalid("dispatch")
	}
	a.msg = chat.PlaceholderMessage()
	a.metrics.Start()
	t := a.move(StateDispatched, nil)
	a.mu.Unlock()

	a.notify(t)
	return nil
}

// Apply folds one fragment into the message. The first fragment moves
// Dispatched to Streaming. A fragment that breaks the merge rules leaves
// the message as it was before the fragment and fails the stream.
func (a *Aggregator) Apply(f Fragment) error {
	return a.applyFor(nil, f)
}

// applyFor is Apply gated on tok. The token is read under the same lock
// that applies the fragment, so an abort seen here cancels instead.
func (a *Aggregator) applyFor(tok *Token, f Fragment) error {
	a.mu.Lock()
	if !a.state.Active() {
		defer a.mu.Unlock()
		return a.invalid("apply fragment")
	}
	if tok != nil && tok.Aborted() {
		ce := &CancelledError{Reason: tok.Reason()}
		t := a.move(StateCancelled, ce)
		a.metrics.Clear()
		a.mu.Unlock()
		a.notify(t)
		return ce
	}

	next := a.msg.Clone()
	if err := applyFragment(&next, f); err != nil {
		a.metrics.Clear()
		t := a.move(StateFailed, err)
		a.mu.Unlock()
		a.notify(t)
		return err
	}

	a.msg = next
	a.metrics.Observe()
	t := a.move(StateStreaming, nil)
	a.mu.Unlock()

	a.notify(t)
	return nil
}

// Complete finalizes the message at the end marker. The terminal
// transition carries the final metrics, which are cleared afterwards.
func (a *Aggregator) Complete() error {
	a.mu.Lock()
	if !a.state.Active() {
		defer a.mu.Unlock()
		return a.invalid("complete")
	}
	a.metrics.Finish()
	t := a.move(StateCompleted, nil)
	a.metrics.Clear()
	a.mu.Unlock()

	a.notify(t)
	return nil
}

// ApplyCompletion applies a non-streamed response in one step, going
// straight from Dispatched to Completed. Content is set only when
// non-empty; tool calls pass through the merge engine. No intermediate
// metrics are recorded.
func (a *Aggregator) ApplyCompletion(c Completion) error {
	a.mu.Lock()
	if a.state != StateDispatched {
		defer a.mu.Unlock()
		return a.invalid("apply completion")
	}

	next := a.msg.Clone()
	if c.Content != "" {
		next.Content = chat.TextContent(c.Content)
	}
	for i, call := range c.ToolCalls {
		if err := mergeToolCall(&next, completedDelta(i, call)); err != nil {
			a.metrics.Clear()
			t := a.move(StateFailed, err)
			a.mu.Unlock()
			a.notify(t)
			return err
		}
	}

	a.msg = next
	a.metrics.Clear()
	t := a.move(StateCompleted, nil)
	a.mu.Unlock()

	a.notify(t)
	return nil
}

// Cancel stops the stream. The partial message is kept; later fragments
// are rejected.
func (a *Aggregator) Cancel(reason Reason) error {
	a.mu.Lock()
	if !a.state.Active() {
		defer a.mu.Unlock()
		return a.invalid("cancel")
	}
	t := a.move(StateCancelled, &CancelledError{Reason: reason})
	a.metrics.Clear()
	a.mu.Unlock()

	a.notify(t)
	return nil
}

// Fail records a transport or protocol error. The partial message is
// kept and the metrics are cleared.
func (a *Aggregator) Fail(err error) error {
	a.mu.Lock()
	if !a.state.Active() {
		defer a.mu.Unlock()
		return a.invalid("fail")
	}
	a.metrics.Clear()
	t := a.move(StateFailed, err)
	a.mu.Unlock()

	a.notify(t)
	return nil
}

// Run pumps src into the aggregator until the end marker, an error, or
// the token stops. Fragments are applied strictly in arrival order, and
// the token is checked after every wait so a fragment that arrives after
// an abort is dropped. Run always closes src. It returns nil on
// completion, *CancelledError on cancellation, and the failure otherwise.
func (a *Aggregator) Run(tok *Token, src Source) error {
	defer src.Close()

	for {
		if tok.Aborted() {
			return a.cancelFor(tok)
		}

		f, err := src.Next(tok.Context())

		if tok.Aborted() {
			return a.cancelFor(tok)
		}
		if errors.Is(err, io.EOF) {
			return a.Complete()
		}
		if err != nil {
			var te *TransportError
			if !errors.As(err, &te) {
				err = &TransportError{Err: err}
			}
			if ferr := a.Fail(err); ferr != nil {
				return ferr
			}
			return err
		}

		if err := a.applyFor(tok, f); err != nil {
			return err
		}
	}
}

func (a *Aggregator) cancelFor(tok *Token) error {
	ce := &CancelledError{Reason: tok.Reason()}
	if err := a.Cancel(ce.Reason); err != nil {
		return err
	}
	return ce
}

// move must be called with a.mu held.
func (a *Aggregator) move(to State, err error) Transition {
	t := Transition{From: a.state, To: to, Message: a.msg.Clone(), Err: err}
	if m, ok := a.metrics.Snapshot(); ok {
		t.Metrics = &m
	}
	a.state = to
	return t
}

func (a *Aggregator) notify(t Transition) {
	a.mu.Lock()
	observers := make([]Observer, len(a.observers))
	copy(observers, a.observers)
	a.mu.Unlock()

	for _, o := range observers {
		o.OnTransition(t)
	}
}

func (a *Aggregator) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, op, a.state)
}

func completedDelta(index int, call chat.ToolCall) ToolCallDelta {
	id, typ := call.ID, call.Type
	name, args := call.Function.Name, call.Function.Arguments
	return ToolCallDelta{
		Index:    index,
		ID:       &id,
		Type:     &typ,
		Function: &FunctionDelta{Name: &name, Arguments: &args},
	}
}
