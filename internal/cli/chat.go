package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/hooks"
	"github.com/soyeahso/polyground/internal/openai"
	"github.com/soyeahso/polyground/internal/request"
	"github.com/soyeahso/polyground/internal/session"
	"github.com/soyeahso/polyground/internal/share"
	"github.com/soyeahso/polyground/internal/store"
	"github.com/soyeahso/polyground/internal/stream"
	"github.com/spf13/cobra"
)

const maxLineSize = 1024 * 1024

var errQuit = errors.New("quit")

func newChatCmd() *cobra.Command {
	var (
		resume    string
		fromLink  string
		toolsFile string
		model     string
		noStream  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: "Start an interactive chat. Type a message and press enter to send it; " +
			"lines starting with / are commands (try /help). Ctrl-C stops a reply " +
			"that is still streaming; pressing it twice while idle exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadedConfig()
			if err != nil {
				return err
			}

			hm, err := newHooks(c)
			if err != nil {
				return err
			}
			defer hm.Wait()

			cs, closer, err := openStore(c)
			if err != nil {
				return err
			}
			defer closer.Close()

			settings := c.Sampling.Clone()
			r := newREPL(cmd.OutOrStdout(), newClient(c), cs, hm, c.Share.BaseURL, settings)

			ctx := cmd.Context()
			switch {
			case resume != "":
				if err := r.resume(ctx, resume); err != nil {
					return err
				}
			case fromLink != "":
				state, err := share.Decode(fromLink, log)
				if err != nil {
					return err
				}
				r.sess.Restore(state.Messages, state.Tools, state.ToolChoice, &state.Settings)
			}

			if toolsFile != "" {
				tools, err := loadTools(toolsFile)
				if err != nil {
					return err
				}
				r.sess.SetTools(tools)
			}
			if model != "" || noStream {
				s := r.sess.Settings()
				if model != "" {
					s.Model = model
				}
				if noStream {
					s.Stream = false
				}
				r.sess.SetSettings(s)
			}

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, os.Interrupt)
			defer signal.Stop(sigc)
			r.interrupts = sigc

			fmt.Fprintf(r.out, "polyground chat, model %s. Type /help for commands.\n", displayModel(r.sess.Settings()))
			return r.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&resume, "resume", "", "resume a saved conversation by id")
	cmd.Flags().StringVar(&fromLink, "from-link", "", "start from a share link")
	cmd.Flags().StringVar(&toolsFile, "tools", "", "JSON or YAML file with tool definitions")
	cmd.Flags().StringVar(&model, "model", "", "model to use")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply instead of streaming it")

	return cmd
}

// repl is one interactive chat bound to a session.
type repl struct {
	sess      *session.Session
	printer   *printer
	client    *openai.Client
	store     store.ConversationStore
	shareBase string
	out       io.Writer

	interrupts <-chan os.Signal
	images     []chat.ImageURL
	convID     string
	armed      bool
}

func newREPL(out io.Writer, client *openai.Client, cs store.ConversationStore, hm *hooks.Manager, shareBase string, settings request.Settings) *repl {
	p := newPrinter(out)
	return &repl{
		sess: session.New(session.Options{
			Dispatcher:     client,
			Hooks:          hm,
			Log:            log,
			Observers:      []stream.Observer{p},
			AppendUserTurn: true,
			Settings:       &settings,
		}),
		printer:   p,
		client:    client,
		store:     cs,
		shareBase: shareBase,
		out:       out,
	}
}

func (r *repl) resume(ctx context.Context, id string) error {
	conv, err := r.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("loading conversation %s: %w", id, err)
	}
	r.sess.Restore(conv.Messages, conv.Tools, conv.ToolChoice, &conv.Settings)
	r.convID = conv.ID
	fmt.Fprintf(r.out, "Resumed %q (%d messages)\n", conv.Title, len(conv.Messages))
	return nil
}

// run reads lines until EOF, /quit, or a double interrupt while idle.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	r.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.interrupts:
			if r.armed {
				fmt.Fprintln(r.out)
				return nil
			}
			r.armed = true
			fmt.Fprintln(r.out, "\n(press Ctrl-C again or type /quit to exit)")
			r.prompt()
		case err := <-readErr:
			return err
		case line := <-lines:
			r.armed = false
			if err := r.handle(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			r.prompt()
		}
	}
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, "> ")
}

func (r *repl) handle(ctx context.Context, line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "/") {
		name, rest, _ := strings.Cut(trimmed[1:], " ")
		cmd, ok := slashCommands[name]
		if !ok {
			return fmt.Errorf("unknown command /%s (try /help)", name)
		}
		return cmd.run(ctx, r, strings.TrimSpace(rest))
	}
	return r.say(ctx, line)
}

// say adds a user turn with any queued images and sends the conversation.
func (r *repl) say(ctx context.Context, text string) error {
	idx, err := r.sess.AddUserMessage(text)
	if err != nil {
		return err
	}
	for _, img := range r.images {
		if err := r.sess.AttachImage(idx, img.URL, img.Detail); err != nil {
			return err
		}
	}
	r.images = nil
	return r.send(ctx)
}

// send dispatches the conversation and blocks until the reply ends. An
// interrupt while waiting aborts the reply and keeps what has arrived.
func (r *repl) send(ctx context.Context) error {
	if err := r.sess.Send(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		r.sess.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-r.interrupts:
		r.sess.Abort()
		<-done
	}

	for {
		select {
		case err := <-r.sess.Errors():
			fmt.Fprintf(r.out, "error: %v\n", err)
		default:
			return nil
		}
	}
}

func displayModel(s request.Settings) string {
	if s.Model == "" {
		return "(none, use /set model <id>)"
	}
	return s.Model
}
