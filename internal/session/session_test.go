package session

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
	"github.com/soyeahso/polyground/internal/hooks"
	"github.com/soyeahso/polyground/internal/logging"
	"github.com/soyeahso/polyground/internal/request"
	"github.com/soyeahso/polyground/internal/stream"
)

// chanSource yields fragments pushed by the test.
type chanSource struct {
	ch     chan stream.Fragment
	closed chan struct{}
	once   sync.Once
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan stream.Fragment), closed: make(chan struct{})}
}

func (c *chanSource) Next(ctx context.Context) (stream.Fragment, error) {
	select {
	case f, ok := <-c.ch:
		if !ok {
			return stream.Fragment{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return stream.Fragment{}, ctx.Err()
	}
}

func (c *chanSource) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDispatcher hands out prepared responses in order.
type fakeDispatcher struct {
	mu        sync.Mutex
	responses []*stream.Response
	errs      []error
	requests  []*request.Descriptor
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, d *request.Descriptor) (*stream.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, d)
	i := len(f.requests) - 1
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return nil, err
	}
	return f.responses[i], nil
}

func (f *fakeDispatcher) last() *request.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type collector struct {
	mu sync.Mutex
	ts []stream.Transition
}

func (c *collector) OnTransition(t stream.Transition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts = append(c.ts, t)
}

func (c *collector) states() []stream.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stream.State, len(c.ts))
	for i, t := range c.ts {
		out[i] = t.To
	}
	return out
}

// streamingSignal reports every applied fragment.
type streamingSignal chan struct{}

func (s streamingSignal) OnTransition(t stream.Transition) {
	if t.To == stream.StateStreaming {
		s <- struct{}{}
	}
}

func settingsWithModel() *request.Settings {
	s := request.DefaultSettings()
	s.Model = "gpt-4o-mini"
	return &s
}

func newTestSession(d stream.Dispatcher, obs ...stream.Observer) *Session {
	return New(Options{
		Dispatcher: d,
		Settings:   settingsWithModel(),
		Observers:  obs,
		Log:        logging.New(nil, "silent"),
	})
}

func TestSession_StreamedRunMirrorsIntoConversation(t *testing.T) {
	src := newChanSource()
	disp := &fakeDispatcher{responses: []*stream.Response{{Stream: src}}}
	col := &collector{}
	s := newTestSession(disp, col)

	_, err := s.AddUserMessage("What is the capital of France?")
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background()))
	assert.True(t, s.Busy())
	assert.Equal(t, 3, s.Conversation().Len())

	src.ch <- stream.TextFragment("Paris")
	src.ch <- stream.TextFragment(" is the capital.")
	close(src.ch)
	s.Wait()

	assert.False(t, s.Busy())
	assert.Equal(t, stream.StateCompleted, s.State())
	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, chat.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Paris is the capital.", msgs[2].Content.String())
	assert.Equal(t, []stream.State{
		stream.StateDispatched, stream.StateStreaming, stream.StateStreaming, stream.StateCompleted,
	}, col.states())

	sent := disp.last().Messages()
	require.Len(t, sent, 2, "placeholder is not part of the request")
	assert.Equal(t, "What is the capital of France?", sent[1].Content.String())
}

func TestSession_AppendUserTurnAfterStream(t *testing.T) {
	src := newChanSource()
	disp := &fakeDispatcher{responses: []*stream.Response{{Stream: src}}}
	s := New(Options{Dispatcher: disp, Settings: settingsWithModel(), AppendUserTurn: true})

	_, err := s.AddUserMessage("hi")
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background()))
	close(src.ch)
	s.Wait()

	last, ok := s.Conversation().Last()
	require.True(t, ok)
	assert.Equal(t, chat.RoleUser, last.Role)
	assert.True(t, last.Content.IsEmpty())
	assert.Equal(t, 4, s.Conversation().Len())
}

func TestSession_NonStreamCompletion(t *testing.T) {
	disp := &fakeDispatcher{responses: []*stream.Response{{
		Completion: &stream.Completion{Content: "Paris is the capital of France."},
	}}}
	col := &collector{}
	settings := settingsWithModel()
	settings.Stream = false
	s := New(Options{Dispatcher: disp, Settings: settings, Observers: []stream.Observer{col}, AppendUserTurn: true})

	require.NoError(t, s.Send(context.Background()))
	s.Wait()

	last, _ := s.Conversation().Last()
	assert.Equal(t, "Paris is the capital of France.", last.Content.String())
	assert.Equal(t, []stream.State{stream.StateDispatched, stream.StateCompleted}, col.states())
	_, ok := s.Metrics()
	assert.False(t, ok)
}

func TestSession_InvalidConfigurationIsSynchronous(t *testing.T) {
	disp := &fakeDispatcher{}
	s := New(Options{Dispatcher: disp})

	err := s.Send(context.Background())
	var ice *request.InvalidConfigurationError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, 2, s.Conversation().Len(), "no placeholder appended")
	assert.Empty(t, disp.requests)
	assert.False(t, s.Busy())
}

func TestSession_AbortKeepsPartialContent(t *testing.T) {
	src := newChanSource()
	disp := &fakeDispatcher{responses: []*stream.Response{{Stream: src}}}
	applied := make(streamingSignal, 1)
	s := newTestSession(disp, applied)

	require.NoError(t, s.Send(context.Background()))
	src.ch <- stream.TextFragment("Once upon")
	<-applied

	assert.True(t, s.Abort())
	s.Wait()

	last, _ := s.Conversation().Last()
	assert.Equal(t, "Once upon", last.Content.String())
	assert.Equal(t, stream.StateCancelled, s.State())
	<-src.closed

	select {
	case err := <-s.Errors():
		t.Fatalf("cancellation must not be reported as an error: %v", err)
	default:
	}
	assert.False(t, s.Abort())
}

func TestSession_SupersededRunNeverWrites(t *testing.T) {
	first := newChanSource()
	second := newChanSource()
	disp := &fakeDispatcher{responses: []*stream.Response{{Stream: first}, {Stream: second}}}
	applied := make(streamingSignal, 2)
	s := newTestSession(disp, applied)

	require.NoError(t, s.Send(context.Background()))
	first.ch <- stream.TextFragment("stale")
	<-applied
	require.NoError(t, s.Send(context.Background()))

	// The first pump sees its token superseded and stops reading.
	<-first.closed

	second.ch <- stream.TextFragment("fresh")
	close(second.ch)
	s.Wait()

	msgs := s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "stale", msgs[2].Content.String())
	assert.Equal(t, "fresh", msgs[3].Content.String())
}

func TestSession_TransportErrorOnErrors(t *testing.T) {
	disp := &fakeDispatcher{
		responses: []*stream.Response{nil},
		errs:      []error{errors.New("dial tcp: connection refused")},
	}
	s := newTestSession(disp)

	require.NoError(t, s.Send(context.Background()))
	s.Wait()

	select {
	case err := <-s.Errors():
		var te *stream.TransportError
		require.ErrorAs(t, err, &te)
		assert.Contains(t, te.Error(), "connection refused")
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error")
	}
	assert.Equal(t, stream.StateFailed, s.State())
}

func TestSession_MalformedFragmentOnErrors(t *testing.T) {
	src := newChanSource()
	disp := &fakeDispatcher{responses: []*stream.Response{{Stream: src}}}
	s := newTestSession(disp)

	require.NoError(t, s.Send(context.Background()))
	src.ch <- stream.TextFragment("partial")
	src.ch <- stream.ToolCallFragment(stream.ContinueToolCall(0, "{}"))
	s.Wait()

	err := <-s.Errors()
	var mf *stream.MalformedFragmentError
	require.ErrorAs(t, err, &mf)
	last, _ := s.Conversation().Last()
	assert.Equal(t, "partial", last.Content.String())
}

func TestSession_HooksFire(t *testing.T) {
	mgr := hooks.NewManager(logging.New(nil, "silent"))
	var mu sync.Mutex
	var events []string
	for _, ev := range hooks.AllEvents {
		mgr.On(ev, "test", func(_ context.Context, p hooks.Payload) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, p.Event)
			return nil
		})
	}

	src := newChanSource()
	s := New(Options{
		Dispatcher: &fakeDispatcher{responses: []*stream.Response{{Stream: src}}},
		Settings:   settingsWithModel(),
		Hooks:      mgr,
	})
	require.NoError(t, s.Send(context.Background()))
	close(src.ch)
	s.Wait()
	mgr.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{hooks.EventStreamStarted, hooks.EventStreamCompleted}, events)
}

func TestSession_EditingRejectedWhileBusy(t *testing.T) {
	src := newChanSource()
	s := newTestSession(&fakeDispatcher{responses: []*stream.Response{{Stream: src}}})
	require.NoError(t, s.Send(context.Background()))

	assert.ErrorIs(t, s.DeleteMessage(0), ErrBusy)
	assert.ErrorIs(t, s.DeleteAfter(0), ErrBusy)
	_, err := s.AddUserMessage("x")
	assert.ErrorIs(t, err, ErrBusy)

	close(src.ch)
	s.Wait()
	assert.NoError(t, s.DeleteAfter(0))
	assert.Equal(t, 1, s.Conversation().Len())
}

func TestSession_EditingOperations(t *testing.T) {
	s := newTestSession(&fakeDispatcher{})

	idx, err := s.AddUserMessage("first")
	require.NoError(t, err)
	assert.Equal(t, 1, idx, "fills the empty user turn")

	idx, err = s.AddUserMessage("second")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	require.NoError(t, s.AttachImage(2, "https://example.com/a.png", "auto"))
	m, err := s.Conversation().At(2)
	require.NoError(t, err)
	assert.Equal(t, chat.ContentParts, m.Content.Kind())

	idx, err = s.AddToolResult("call_1", "42")
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	require.NoError(t, s.EditMessage(1, "edited"))
	m, _ = s.Conversation().At(1)
	assert.Equal(t, "edited", m.Content.String())

	require.NoError(t, s.DeleteMessage(3))
	require.NoError(t, s.DeleteAfter(1))
	assert.Equal(t, 2, s.Conversation().Len())

	require.NoError(t, s.SetSystemPrompt("Be terse."))
	first, _ := s.Conversation().At(0)
	assert.Equal(t, "Be terse.", first.Content.String())

	require.NoError(t, s.DeleteMessage(0))
	require.NoError(t, s.SetSystemPrompt("Again."))
	first, _ = s.Conversation().At(0)
	assert.Equal(t, chat.RoleSystem, first.Role)
	assert.Equal(t, 2, s.Conversation().Len())

	assert.ErrorIs(t, s.DeleteMessage(10), chat.ErrIndexOutOfRange)
}

func TestSession_ResetAndRestore(t *testing.T) {
	src := newChanSource()
	s := newTestSession(&fakeDispatcher{responses: []*stream.Response{{Stream: src}}})
	s.SetTools([]chat.Tool{chat.FunctionTool("f", "", nil)})
	s.SetToolChoice(chat.ToolChoiceRequired)

	require.NoError(t, s.Send(context.Background()))
	s.Reset()

	assert.False(t, s.Busy())
	assert.Equal(t, chat.InitialMessages(), s.Messages())
	assert.Len(t, s.Tools(), 1)
	assert.Equal(t, chat.ToolChoiceRequired, s.ToolChoice())

	settings := request.DefaultSettings()
	settings.Model = "llama3"
	s.Restore([]chat.Message{chat.UserMessage("hello")}, nil, chat.ToolChoiceAuto, &settings)
	assert.Equal(t, 1, s.Conversation().Len())
	assert.Empty(t, s.Tools())
	assert.Equal(t, "llama3", s.Settings().Model)
}

func TestSession_SettingsAreCopied(t *testing.T) {
	s := newTestSession(&fakeDispatcher{})
	got := s.Settings()
	got.Stop = append(got.Stop, "X")
	assert.Empty(t, s.Settings().Stop)

	got.Temperature = 1.5
	s.SetSettings(got)
	assert.Equal(t, 1.5, s.Settings().Temperature)
}

func TestSession_OnTransitionReceivesIndex(t *testing.T) {
	disp := &fakeDispatcher{responses: []*stream.Response{
		{Completion: &stream.Completion{Content: "first"}},
		{Completion: &stream.Completion{Content: "second"}},
	}}

	var mu sync.Mutex
	var indexes []int
	s := New(Options{
		Dispatcher: disp,
		Settings:   settingsWithModel(),
		OnTransition: func(index int, t stream.Transition) {
			mu.Lock()
			defer mu.Unlock()
			if t.To == stream.StateCompleted {
				indexes = append(indexes, index)
			}
		},
	})

	_, err := s.AddUserMessage("one")
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background()))
	s.Wait()
	_, err = s.AddUserMessage("two")
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background()))
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 4}, indexes)
}

func TestSession_ToolChoiceWithoutToolsIsOmitted(t *testing.T) {
	d := &fakeDispatcher{responses: []*stream.Response{{Completion: &stream.Completion{Content: "ok"}}}}
	s := newTestSession(d)
	s.SetToolChoice(chat.ToolChoiceNone)

	require.NoError(t, s.Send(context.Background()))
	s.Wait()

	_, ok := d.last().ToolChoice()
	assert.False(t, ok)
	assert.Empty(t, d.last().Tools())
}
