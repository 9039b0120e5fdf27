package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/request"
	"github.com/soyeahso/polyground/internal/session"
	"github.com/soyeahso/polyground/internal/store"
)

// upstreamTimeout bounds provider and store calls made on behalf of an RPC.
const upstreamTimeout = 30 * time.Second

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("chat.abort", s.rpcChatAbort)
	s.Handle("chat.history", s.rpcChatHistory)
	s.Handle("chat.reset", s.rpcChatReset)
	s.Handle("chat.truncate", s.rpcChatTruncate)
	s.Handle("chat.delete", s.rpcChatDelete)
	s.Handle("chat.settings.get", s.rpcSettingsGet)
	s.Handle("chat.settings.set", s.rpcSettingsSet)
	s.Handle("chat.tools.set", s.rpcToolsSet)
	if s.models != nil {
		s.Handle("models.list", s.rpcModelsList)
	}
	if s.store != nil {
		s.Handle("chat.save", s.rpcChatSave)
		s.Handle("chat.load", s.rpcChatLoad)
		s.Handle("conversations.list", s.rpcConversationsList)
	}
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Clients:  s.clients.Count(),
		UptimeMs: s.uptime().Milliseconds(),
	})
}

// respondSessionError maps session and conversation errors to error frames.
func (rc *RequestContext) respondSessionError(err error) {
	var ice *request.InvalidConfigurationError
	switch {
	case errors.Is(err, session.ErrBusy):
		rc.RespondErrorShape(ErrorShape{Code: "busy", Message: err.Error(), Retryable: true})
	case errors.Is(err, chat.ErrIndexOutOfRange):
		rc.RespondError("invalid_params", err.Error())
	case errors.As(err, &ice):
		rc.RespondErrorShape(ErrorShape{Code: "invalid_configuration", Message: err.Error(), Details: ice.Issues})
	case errors.Is(err, store.ErrNotFound):
		rc.RespondError("not_found", err.Error())
	default:
		rc.RespondError("internal_error", err.Error())
	}
}

type imageParam struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type toolResultParam struct {
	CallID  string `json:"callId"`
	Content string `json:"content"`
}

type chatSendParams struct {
	Message     string            `json:"message,omitempty"`
	Images      []imageParam      `json:"images,omitempty"`
	ToolResults []toolResultParam `json:"toolResults,omitempty"`
	Stream      *bool             `json:"stream,omitempty"`
}

// rpcChatSend adds the user's turn to the conversation and starts a
// completion. Progress arrives as chat.transition events; the response
// only acknowledges the start.
func (s *Server) rpcChatSend(rc *RequestContext) {
	if s.dispatcher == nil {
		rc.RespondError("unavailable", "no provider configured")
		return
	}

	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	for _, img := range p.Images {
		if img.URL == "" {
			rc.RespondError("invalid_params", "image url is required")
			return
		}
	}

	sess := rc.Client.Session
	if sess.Busy() {
		rc.respondSessionError(session.ErrBusy)
		return
	}

	// Edits made for this request are undone if it is not sent, so a
	// retry does not add them twice.
	before, prevSettings := sess.Messages(), sess.Settings()
	fail := func(err error) {
		if rerr := sess.ReplaceMessages(before); rerr != nil {
			s.log.Warn().Err(rerr).Str("connId", rc.Client.ConnID).Msg("rollback of chat.send edits failed")
		}
		sess.SetSettings(prevSettings)
		rc.respondSessionError(err)
	}

	for _, tr := range p.ToolResults {
		if _, err := sess.AddToolResult(tr.CallID, tr.Content); err != nil {
			fail(err)
			return
		}
	}
	if p.Message != "" || len(p.Images) > 0 {
		index, err := sess.AddUserMessage(p.Message)
		if err != nil {
			fail(err)
			return
		}
		for _, img := range p.Images {
			if err := sess.AttachImage(index, img.URL, img.Detail); err != nil {
				fail(err)
				return
			}
		}
	}
	if p.Stream != nil {
		settings := sess.Settings()
		settings.Stream = *p.Stream
		sess.SetSettings(settings)
	}

	if err := sess.Send(s.context()); err != nil {
		fail(err)
		return
	}
	rc.Respond(map[string]any{
		"index": len(sess.Messages()) - 1,
	})
}

func (s *Server) rpcChatAbort(rc *RequestContext) {
	rc.Respond(map[string]any{"aborted": rc.Client.Session.Abort()})
}

func (s *Server) rpcChatHistory(rc *RequestContext) {
	sess := rc.Client.Session
	resp := map[string]any{
		"messages":   sess.Messages(),
		"tools":      sess.Tools(),
		"toolChoice": sess.ToolChoice(),
		"state":      sess.State(),
	}
	if m, ok := sess.Metrics(); ok {
		resp["metrics"] = snapshot(&m)
	}
	rc.Respond(resp)
}

func (s *Server) rpcChatReset(rc *RequestContext) {
	sess := rc.Client.Session
	sess.Reset()
	rc.Respond(map[string]any{"messages": sess.Messages()})
}

type indexParams struct {
	Index *int `json:"index"`
}

func (rc *RequestContext) index() (int, bool) {
	var p indexParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return 0, false
	}
	if p.Index == nil {
		rc.RespondError("invalid_params", "index is required")
		return 0, false
	}
	return *p.Index, true
}

// rpcChatTruncate keeps messages 0..index.
func (s *Server) rpcChatTruncate(rc *RequestContext) {
	i, ok := rc.index()
	if !ok {
		return
	}
	sess := rc.Client.Session
	if err := sess.DeleteAfter(i); err != nil {
		rc.respondSessionError(err)
		return
	}
	rc.Respond(map[string]any{"messages": sess.Messages()})
}

func (s *Server) rpcChatDelete(rc *RequestContext) {
	i, ok := rc.index()
	if !ok {
		return
	}
	sess := rc.Client.Session
	if err := sess.DeleteMessage(i); err != nil {
		rc.respondSessionError(err)
		return
	}
	rc.Respond(map[string]any{"messages": sess.Messages()})
}

func (s *Server) rpcSettingsGet(rc *RequestContext) {
	rc.Respond(rc.Client.Session.Settings())
}

type settingsSetParams struct {
	Settings json.RawMessage `json:"settings"`
}

// rpcSettingsSet merges a partial settings object onto the current ones.
func (s *Server) rpcSettingsSet(rc *RequestContext) {
	var p settingsSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if len(p.Settings) == 0 {
		rc.RespondError("invalid_params", "settings is required")
		return
	}

	sess := rc.Client.Session
	merged := sess.Settings()
	if err := json.Unmarshal(p.Settings, &merged); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if merged.Stop == nil {
		merged.Stop = []string{}
	}
	if issues := request.CheckRanges(merged); len(issues) > 0 {
		rc.RespondErrorShape(ErrorShape{
			Code:    "invalid_params",
			Message: (&request.InvalidConfigurationError{Issues: issues}).Error(),
			Details: issues,
		})
		return
	}

	sess.SetSettings(merged)
	rc.Respond(merged)
}

type toolsSetParams struct {
	Tools      json.RawMessage  `json:"tools"`
	ToolChoice *chat.ToolChoice `json:"toolChoice,omitempty"`
}

// rpcToolsSet replaces the session's tools. A missing or null tools list
// clears them; the tool choice is only changed when given.
func (s *Server) rpcToolsSet(rc *RequestContext) {
	var p toolsSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	var tools []chat.Tool
	if len(p.Tools) > 0 && string(p.Tools) != "null" {
		parsed, err := chat.ParseTools(p.Tools)
		if err != nil {
			rc.RespondError("invalid_params", err.Error())
			return
		}
		tools = parsed
	}

	sess := rc.Client.Session
	sess.SetTools(tools)
	if p.ToolChoice != nil {
		sess.SetToolChoice(*p.ToolChoice)
	}
	rc.Respond(map[string]any{
		"tools":      sess.Tools(),
		"toolChoice": sess.ToolChoice(),
	})
}

func (s *Server) rpcModelsList(rc *RequestContext) {
	ctx, cancel := context.WithTimeout(s.context(), upstreamTimeout)
	defer cancel()

	models, err := s.models.ListModels(ctx)
	if err != nil {
		rc.RespondErrorShape(ErrorShape{Code: "upstream_error", Message: err.Error(), Retryable: true})
		return
	}
	rc.Respond(map[string]any{"models": models})
}

type chatSaveParams struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

func (s *Server) rpcChatSave(rc *RequestContext) {
	var p chatSaveParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	sess := rc.Client.Session
	c := &store.Conversation{
		ID:         p.ID,
		Title:      p.Title,
		Messages:   sess.Messages(),
		Tools:      sess.Tools(),
		ToolChoice: sess.ToolChoice(),
		Settings:   sess.Settings(),
	}

	ctx, cancel := context.WithTimeout(s.context(), upstreamTimeout)
	defer cancel()
	if err := s.store.Save(ctx, c); err != nil {
		rc.respondSessionError(err)
		return
	}
	rc.Respond(map[string]any{"id": c.ID, "title": c.Title})
}

type chatLoadParams struct {
	ID string `json:"id"`
}

// rpcChatLoad aborts any in-flight request and replaces the session's
// conversation with a saved one.
func (s *Server) rpcChatLoad(rc *RequestContext) {
	var p chatLoadParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.ID == "" {
		rc.RespondError("invalid_params", "id is required")
		return
	}

	ctx, cancel := context.WithTimeout(s.context(), upstreamTimeout)
	defer cancel()
	c, err := s.store.Load(ctx, p.ID)
	if err != nil {
		rc.respondSessionError(err)
		return
	}

	sess := rc.Client.Session
	sess.Restore(c.Messages, c.Tools, c.ToolChoice, &c.Settings)
	rc.Respond(map[string]any{
		"id":       c.ID,
		"title":    c.Title,
		"messages": sess.Messages(),
	})
}

type conversationsListParams struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) rpcConversationsList(rc *RequestContext) {
	var p conversationsListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(s.context(), upstreamTimeout)
	defer cancel()
	list, err := s.store.List(ctx, p.Limit)
	if err != nil {
		rc.respondSessionError(err)
		return
	}
	if list == nil {
		list = []store.Summary{}
	}
	rc.Respond(map[string]any{"conversations": list})
}
