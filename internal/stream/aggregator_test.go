package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/polyground/internal/chat"
)

// sliceSource replays fragments, then returns end.
type sliceSource struct {
	frags  []Fragment
	end    error
	closed bool
	// beforeNext runs before fragment i is returned.
	beforeNext func(i int)
	pos        int
}

func (s *sliceSource) Next(ctx context.Context) (Fragment, error) {
	if s.beforeNext != nil {
		s.beforeNext(s.pos)
	}
	if s.pos >= len(s.frags) {
		if s.end != nil {
			return Fragment{}, s.end
		}
		return Fragment{}, io.EOF
	}
	f := s.frags[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) OnTransition(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.transitions))
	for i, t := range r.transitions {
		out[i] = t.To
	}
	return out
}

func (r *recorder) last() Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions[len(r.transitions)-1]
}

func newTestAggregator() (*Aggregator, *recorder) {
	rec := &recorder{}
	clock := newFakeClock(10 * time.Millisecond)
	return NewAggregator(WithClock(clock.Now), WithObserver(rec)), rec
}

func TestAggregator_StreamCompletes(t *testing.T) {
	agg, rec := newTestAggregator()
	require.NoError(t, agg.Dispatch())
	assert.Equal(t, StateDispatched, agg.State())
	assert.True(t, agg.Message().Content.IsNull())

	src := &sliceSource{frags: []Fragment{
		TextFragment("The capital"),
		TextFragment(" of France is"),
		TextFragment(" Paris."),
	}}
	err := agg.Run(NewToken(context.Background()), src)
	require.NoError(t, err)
	assert.True(t, src.closed)

	assert.Equal(t, StateCompleted, agg.State())
	assert.Equal(t, "The capital of France is Paris.", agg.Message().Content.String())
	assert.Equal(t, []State{
		StateDispatched, StateStreaming, StateStreaming, StateStreaming, StateCompleted,
	}, rec.states())

	final := rec.last()
	require.NotNil(t, final.Metrics)
	require.NotNil(t, final.Metrics.FragmentCount)
	assert.Equal(t, 3, *final.Metrics.FragmentCount)
	assert.NotNil(t, final.Metrics.EndTime)

	_, ok := agg.Metrics()
	assert.False(t, ok, "metrics are cleared after completion")
}

func TestAggregator_EmptyStreamCompletes(t *testing.T) {
	agg, rec := newTestAggregator()
	require.NoError(t, agg.Dispatch())
	require.NoError(t, agg.Run(NewToken(context.Background()), &sliceSource{}))
	assert.Equal(t, []State{StateDispatched, StateCompleted}, rec.states())
	assert.True(t, agg.Message().Content.IsNull())
}

func TestAggregator_ToolCallStream(t *testing.T) {
	agg, _ := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	src := &sliceSource{frags: []Fragment{
		ToolCallFragment(OpenToolCall(0, "call_1", "get_capital", "")),
		ToolCallFragment(ContinueToolCall(0, `{"country":`)),
		ToolCallFragment(ContinueToolCall(0, `"France"}`)),
	}}
	require.NoError(t, agg.Run(NewToken(context.Background()), src))

	msg := agg.Message()
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "get_capital", msg.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"country":"France"}`, msg.ToolCalls[0].Function.Arguments)
}

func TestAggregator_MalformedFragmentFails(t *testing.T) {
	agg, rec := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	src := &sliceSource{frags: []Fragment{
		TextFragment("partial"),
		ToolCallFragment(ContinueToolCall(0, "{}")),
		TextFragment(" never applied"),
	}}
	err := agg.Run(NewToken(context.Background()), src)

	var mf *MalformedFragmentError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, StateFailed, agg.State())
	assert.Equal(t, "partial", agg.Message().Content.String())
	assert.Empty(t, agg.Message().ToolCalls)

	final := rec.last()
	assert.Equal(t, StateFailed, final.To)
	assert.Nil(t, final.Metrics)
	assert.ErrorAs(t, final.Err, &mf)
}

func TestAggregator_MalformedFragmentIsAtomic(t *testing.T) {
	agg, _ := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	require.NoError(t, agg.Apply(ToolCallFragment(OpenToolCall(0, "a", "f", "1"))))

	id := "b"
	bad := ToolCallDelta{Index: 1, ID: &id}
	err := agg.Apply(ToolCallFragment(ContinueToolCall(0, "2"), bad))
	require.Error(t, err)

	msg := agg.Message()
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "1", msg.ToolCalls[0].Function.Arguments, "earlier delta of the bad fragment is rolled back")
}

func TestAggregator_TransportErrorFails(t *testing.T) {
	agg, rec := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	src := &sliceSource{
		frags: []Fragment{TextFragment("half")},
		end:   errors.New("connection reset"),
	}
	err := agg.Run(NewToken(context.Background()), src)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "connection reset", te.Err.Error())
	assert.Equal(t, StateFailed, agg.State())
	assert.Equal(t, "half", agg.Message().Content.String())
	assert.Nil(t, rec.last().Metrics)
}

func TestAggregator_TransportErrorPassesThrough(t *testing.T) {
	agg, _ := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	orig := &TransportError{StatusCode: 502, Body: "bad gateway"}
	err := agg.Run(NewToken(context.Background()), &sliceSource{end: orig})
	assert.Same(t, orig, err)
}

func TestAggregator_CancelDropsLateFragments(t *testing.T) {
	agg, rec := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	tok := NewToken(context.Background())
	src := &sliceSource{
		frags: []Fragment{
			TextFragment("Once upon"),
			TextFragment(" a time"),
			TextFragment(" late"),
		},
		beforeNext: func(i int) {
			if i == 2 {
				tok.Abort()
			}
		},
	}
	err := agg.Run(tok, src)

	var ce *CancelledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonAborted, ce.Reason)
	assert.True(t, src.closed)

	assert.Equal(t, StateCancelled, agg.State())
	assert.Equal(t, "Once upon a time", agg.Message().Content.String())

	final := rec.last()
	assert.Equal(t, StateCancelled, final.To)
	require.NotNil(t, final.Metrics)
	assert.Equal(t, 2, *final.Metrics.FragmentCount)

	assert.ErrorIs(t, agg.Apply(TextFragment("more")), ErrInvalidTransition)
	assert.Equal(t, "Once upon a time", agg.Message().Content.String())
}

func TestAggregator_AbortSeenAtApplyCancels(t *testing.T) {
	agg, rec := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	tok := NewToken(context.Background())
	require.NoError(t, agg.applyFor(tok, TextFragment("kept")))
	tok.Abort()

	err := agg.applyFor(tok, TextFragment(" dropped"))
	var ce *CancelledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonAborted, ce.Reason)
	assert.Equal(t, []State{StateDispatched, StateStreaming, StateCancelled}, rec.states())
	assert.Equal(t, "kept", agg.Message().Content.String())
	require.NotNil(t, rec.last().Metrics)
	assert.Equal(t, 1, *rec.last().Metrics.FragmentCount)
}

func TestAggregator_CancelBeforeFirstFragment(t *testing.T) {
	agg, rec := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	var c Controller
	tok := c.Fresh(context.Background())
	c.Fresh(context.Background())

	err := agg.Run(tok, &sliceSource{frags: []Fragment{TextFragment("x")}})
	var ce *CancelledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReasonSuperseded, ce.Reason)
	assert.Equal(t, []State{StateDispatched, StateCancelled}, rec.states())
	assert.True(t, agg.Message().Content.IsNull())
}

func TestAggregator_NonStreamCompletion(t *testing.T) {
	agg, rec := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	require.NoError(t, agg.ApplyCompletion(Completion{Content: "Paris", FinishReason: "stop"}))
	assert.Equal(t, StateCompleted, agg.State())
	assert.Equal(t, "Paris", agg.Message().Content.String())
	assert.Equal(t, []State{StateDispatched, StateCompleted}, rec.states())
	assert.Nil(t, rec.last().Metrics)
}

func TestAggregator_NonStreamToolCalls(t *testing.T) {
	agg, _ := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	require.NoError(t, agg.ApplyCompletion(Completion{
		ToolCalls: []chat.ToolCall{{
			ID:       "call_9",
			Type:     chat.ToolCallTypeFunction,
			Function: chat.FunctionCall{Name: "get_capital", Arguments: `{"country":"France"}`},
		}},
	}))

	msg := agg.Message()
	assert.True(t, msg.Content.IsNull(), "empty content stays null")
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_9", msg.ToolCalls[0].ID)
}

func TestAggregator_InvalidTransitions(t *testing.T) {
	agg, _ := newTestAggregator()
	assert.ErrorIs(t, agg.Apply(TextFragment("x")), ErrInvalidTransition)
	assert.ErrorIs(t, agg.Complete(), ErrInvalidTransition)
	assert.ErrorIs(t, agg.Cancel(ReasonAborted), ErrInvalidTransition)
	assert.ErrorIs(t, agg.ApplyCompletion(Completion{}), ErrInvalidTransition)

	require.NoError(t, agg.Dispatch())
	assert.ErrorIs(t, agg.Dispatch(), ErrInvalidTransition)

	require.NoError(t, agg.Complete())
	assert.ErrorIs(t, agg.Fail(errors.New("late")), ErrInvalidTransition)
	assert.ErrorIs(t, agg.Cancel(ReasonAborted), ErrInvalidTransition)
	assert.Equal(t, StateCompleted, agg.State())
}

func TestAggregator_LiveMetrics(t *testing.T) {
	agg, _ := newTestAggregator()
	require.NoError(t, agg.Dispatch())

	m, ok := agg.Metrics()
	require.True(t, ok)
	assert.Nil(t, m.FragmentCount)

	require.NoError(t, agg.Apply(TextFragment("a")))
	require.NoError(t, agg.Apply(TextFragment("b")))
	m, ok = agg.Metrics()
	require.True(t, ok)
	assert.Equal(t, 2, *m.FragmentCount)
}
