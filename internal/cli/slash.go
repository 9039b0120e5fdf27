package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/request"
	"github.com/soyeahso/polyground/internal/share"
	"github.com/soyeahso/polyground/internal/store"
	"gopkg.in/yaml.v3"
)

type slashCommand struct {
	usage string
	help  string
	run   func(ctx context.Context, r *repl, args string) error
}

var slashCommands map[string]slashCommand

func init() {
	slashCommands = map[string]slashCommand{
		"help":     {"/help", "show this list", cmdHelp},
		"quit":     {"/quit", "leave the chat", func(context.Context, *repl, string) error { return errQuit }},
		"system":   {"/system <text>", "replace the system prompt", cmdSystem},
		"image":    {"/image <url> [auto|low|high]", "attach an image to your next message", cmdImage},
		"tool":     {"/tool <call-id> <result>", "answer a tool call; /send continues", cmdTool},
		"send":     {"/send", "send the conversation as it stands", cmdSend},
		"tools":    {"/tools [file|clear]", "list, load or clear tool definitions", cmdTools},
		"choice":   {"/choice [auto|none|required|<function>]", "show or set the tool choice", cmdChoice},
		"set":      {"/set <field> <value>", "change a sampling setting (see /settings)", cmdSet},
		"settings": {"/settings", "show the sampling settings", cmdSettings},
		"history":  {"/history", "list the conversation", cmdHistory},
		"delete":   {"/delete <index>", "delete one message", cmdDelete},
		"truncate": {"/truncate <index>", "keep messages up to index, drop the rest", cmdTruncate},
		"reset":    {"/reset", "start over from the initial messages", cmdReset},
		"save":     {"/save [title]", "save the conversation", cmdSave},
		"share":    {"/share", "print a link that reopens this chat", cmdShare},
		"models":   {"/models", "list the provider's models", cmdModels},
		"metrics":  {"/metrics", "timing of the last reply", cmdMetrics},
	}
}

func cmdHelp(_ context.Context, r *repl, _ string) error {
	names := make([]string, 0, len(slashCommands))
	for name := range slashCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := slashCommands[name]
		fmt.Fprintf(r.out, "  %-42s %s\n", c.usage, c.help)
	}
	return nil
}

func cmdSystem(_ context.Context, r *repl, args string) error {
	if args == "" {
		return fmt.Errorf("usage: /system <text>")
	}
	return r.sess.SetSystemPrompt(args)
}

func cmdImage(_ context.Context, r *repl, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return fmt.Errorf("usage: /image <url> [auto|low|high]")
	}
	img := chat.ImageURL{URL: fields[0]}
	if len(fields) == 2 {
		switch fields[1] {
		case "auto", "low", "high":
			img.Detail = fields[1]
		default:
			return fmt.Errorf("image detail must be auto, low or high")
		}
	}
	r.images = append(r.images, img)
	fmt.Fprintf(r.out, "%d image(s) will be attached to your next message\n", len(r.images))
	return nil
}

func cmdTool(_ context.Context, r *repl, args string) error {
	callID, result, ok := strings.Cut(args, " ")
	if !ok || callID == "" {
		return fmt.Errorf("usage: /tool <call-id> <result>")
	}
	idx, err := r.sess.AddToolResult(callID, strings.TrimSpace(result))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "added tool result at [%d]\n", idx)
	return nil
}

func cmdSend(ctx context.Context, r *repl, _ string) error {
	return r.send(ctx)
}

func cmdTools(_ context.Context, r *repl, args string) error {
	switch args {
	case "":
		tools := r.sess.Tools()
		if len(tools) == 0 {
			fmt.Fprintln(r.out, "no tools")
			return nil
		}
		for _, t := range tools {
			fmt.Fprintf(r.out, "  %-24s %s\n", t.Function.Name, t.Function.Description)
		}
	case "clear":
		r.sess.SetTools(nil)
		r.sess.SetToolChoice(chat.ToolChoiceAuto)
		fmt.Fprintln(r.out, "tools cleared")
	default:
		tools, err := loadTools(args)
		if err != nil {
			return err
		}
		r.sess.SetTools(tools)
		fmt.Fprintf(r.out, "loaded %d tool(s)\n", len(tools))
	}
	return nil
}

func cmdChoice(_ context.Context, r *repl, args string) error {
	if args == "" {
		fmt.Fprintln(r.out, r.sess.ToolChoice())
		return nil
	}
	r.sess.SetToolChoice(chat.ParseToolChoice(args))
	return nil
}

func cmdSet(_ context.Context, r *repl, args string) error {
	field, value, ok := strings.Cut(args, " ")
	if !ok || field == "" {
		return fmt.Errorf("usage: /set <field> <value>")
	}
	s, err := applySetting(r.sess.Settings(), field, strings.TrimSpace(value))
	if err != nil {
		return err
	}
	r.sess.SetSettings(s)
	return nil
}

// applySetting changes one field of s, named by its JSON key. A stop list
// is given comma separated. Out-of-range values are rejected.
func applySetting(s request.Settings, field, value string) (request.Settings, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return s, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return s, err
	}
	if _, ok := fields[field]; !ok {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return s, fmt.Errorf("unknown setting %q (one of %s)", field, strings.Join(keys, ", "))
	}

	switch field {
	case "model":
		fields[field] = value
	case "stop":
		stop := []string{}
		if value != "" {
			for _, seq := range strings.Split(value, ",") {
				stop = append(stop, strings.TrimSpace(seq))
			}
		}
		fields[field] = stop
	default:
		fields[field] = parseValue(value)
	}

	data, err = json.Marshal(fields)
	if err != nil {
		return s, err
	}
	out := request.DefaultSettings()
	if err := json.Unmarshal(data, &out); err != nil {
		return s, fmt.Errorf("invalid value for %s: %q", field, value)
	}
	if issues := request.CheckRanges(out); len(issues) > 0 {
		return s, &request.InvalidConfigurationError{Issues: issues}
	}
	return out, nil
}

func cmdSettings(_ context.Context, r *repl, _ string) error {
	data, err := yaml.Marshal(r.sess.Settings())
	if err != nil {
		return err
	}
	fmt.Fprint(r.out, string(data))
	return nil
}

func cmdHistory(_ context.Context, r *repl, _ string) error {
	for i, m := range r.sess.Messages() {
		fmt.Fprintln(r.out, formatMessage(i, m))
	}
	return nil
}

func parseIndex(args string) (int, error) {
	i, err := strconv.Atoi(args)
	if err != nil {
		return 0, fmt.Errorf("expected a message index, got %q", args)
	}
	return i, nil
}

func cmdDelete(_ context.Context, r *repl, args string) error {
	i, err := parseIndex(args)
	if err != nil {
		return err
	}
	return r.sess.DeleteMessage(i)
}

func cmdTruncate(_ context.Context, r *repl, args string) error {
	i, err := parseIndex(args)
	if err != nil {
		return err
	}
	return r.sess.DeleteAfter(i)
}

func cmdReset(_ context.Context, r *repl, _ string) error {
	r.sess.Reset()
	r.images = nil
	r.convID = ""
	fmt.Fprintln(r.out, "conversation reset")
	return nil
}

func cmdSave(ctx context.Context, r *repl, args string) error {
	if r.sess.Busy() {
		return fmt.Errorf("wait for the reply to finish before saving")
	}
	conv := &store.Conversation{
		ID:         r.convID,
		Title:      args,
		Messages:   r.sess.Messages(),
		Tools:      r.sess.Tools(),
		ToolChoice: r.sess.ToolChoice(),
		Settings:   r.sess.Settings(),
	}
	if err := r.store.Save(ctx, conv); err != nil {
		return err
	}
	r.convID = conv.ID
	fmt.Fprintf(r.out, "saved %s (%s)\n", conv.ID, conv.Title)
	return nil
}

func cmdShare(_ context.Context, r *repl, _ string) error {
	link, err := share.Encode(r.shareBase, share.State{
		Messages:   r.sess.Messages(),
		Tools:      r.sess.Tools(),
		ToolChoice: r.sess.ToolChoice(),
		Settings:   r.sess.Settings(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, link)
	return nil
}

func cmdModels(ctx context.Context, r *repl, _ string) error {
	models, err := r.client.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Fprintln(r.out, m)
	}
	return nil
}

func cmdMetrics(_ context.Context, r *repl, _ string) error {
	if m, ok := r.sess.Metrics(); ok {
		fmt.Fprintf(r.out, "in flight: %s\n", formatMetrics(m))
		return nil
	}
	m, outcome := r.printer.lastRun()
	if m == nil {
		fmt.Fprintln(r.out, "no completed reply yet")
		return nil
	}
	fmt.Fprintf(r.out, "%s: %s\n", outcome, formatMetrics(*m))
	return nil
}
