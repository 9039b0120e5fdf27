package gateway

import (
	"errors"

	"github.com/soyeahso/polyground/internal/request"
	"github.com/soyeahso/polyground/internal/session"
	"github.com/soyeahso/polyground/internal/stream"
)

// newSession creates the chat session owned by client. Transitions are
// pushed to the client as chat.transition events.
func (s *Server) newSession(client *Client) *session.Session {
	settings := s.settings.Clone()
	return session.New(session.Options{
		Dispatcher: s.dispatcher,
		Hooks:      s.hooks,
		Log:        s.log,
		Observers:  s.observers,
		Tools:      s.tools,
		Settings:   &settings,
		OnTransition: func(index int, t stream.Transition) {
			s.sendEvent(client, EventChatTransition, transitionEvent(index, t))
		},
	})
}

// forwardErrors relays the session's failures as chat.error events until
// the client goes away.
func (s *Server) forwardErrors(client *Client) {
	errs := client.Session.Errors()
	for {
		select {
		case <-client.Done():
			return
		case err := <-errs:
			s.sendEvent(client, EventChatError, errorEvent(err))
		}
	}
}

func (s *Server) sendEvent(client *Client, event string, payload any) {
	if err := client.SendEvent(event, payload, s.eventSeq.Add(1)); err != nil && !errors.Is(err, ErrClientClosed) {
		s.log.Warn().Err(err).Str("connId", client.ConnID).Str("event", event).Msg("event send failed")
	}
}

func transitionEvent(index int, t stream.Transition) TransitionEvent {
	ev := TransitionEvent{
		From:    t.From,
		State:   t.To,
		Index:   index,
		Message: t.Message,
		Metrics: snapshot(t.Metrics),
	}
	if t.Err != nil {
		ev.Error = t.Err.Error()
	}
	return ev
}

func snapshot(m *stream.Metrics) *MetricsSnapshot {
	if m == nil {
		return nil
	}
	out := &MetricsSnapshot{Metrics: *m}
	if d, ok := m.TimeToFirstFragment(); ok {
		ms := d.Milliseconds()
		out.TimeToFirstFragmentMs = &ms
	}
	if r, ok := m.FragmentsPerSecond(); ok {
		out.FragmentsPerSecond = &r
	}
	if d, ok := m.Duration(); ok {
		ms := d.Milliseconds()
		out.DurationMs = &ms
	}
	return out
}

// errorEvent classifies a session failure for the client.
func errorEvent(err error) ErrorEvent {
	var (
		te  *stream.TransportError
		mf  *stream.MalformedFragmentError
		ice *request.InvalidConfigurationError
	)
	switch {
	case errors.As(err, &te):
		return ErrorEvent{Code: "transport_error", Message: err.Error(), Retryable: te.Retryable()}
	case errors.As(err, &mf):
		return ErrorEvent{Code: "malformed_fragment", Message: err.Error()}
	case errors.As(err, &ice):
		return ErrorEvent{Code: "invalid_configuration", Message: err.Error()}
	default:
		return ErrorEvent{Code: "internal_error", Message: err.Error()}
	}
}
