package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/config"
	"github.com/soyeahso/polyground/internal/session"
	"github.com/soyeahso/polyground/internal/store"
	"github.com/soyeahso/polyground/internal/stream"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var (
		model     string
		system    string
		toolsFile string
		images    []string
		noStream  bool
		save      bool
	)

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadedConfig()
			if err != nil {
				return err
			}

			settings := c.Sampling.Clone()
			if model != "" {
				settings.Model = model
			}
			if noStream {
				settings.Stream = false
			}

			msgs := chat.InitialMessages()
			if system != "" {
				msgs[0] = chat.SystemMessage(system)
			}

			var tools []chat.Tool
			if toolsFile != "" {
				if tools, err = loadTools(toolsFile); err != nil {
					return err
				}
			}

			hm, err := newHooks(c)
			if err != nil {
				return err
			}
			defer hm.Wait()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := newPrinter(cmd.OutOrStdout())
			sess := session.New(session.Options{
				Dispatcher: newClient(c),
				Hooks:      hm,
				Log:        log,
				Observers:  []stream.Observer{out},
				Messages:   msgs,
				Tools:      tools,
				Settings:   &settings,
			})

			idx, err := sess.AddUserMessage(strings.Join(args, " "))
			if err != nil {
				return err
			}
			for _, url := range images {
				if err := sess.AttachImage(idx, url, ""); err != nil {
					return err
				}
			}

			if err := sess.Send(ctx); err != nil {
				return err
			}
			sess.Wait()

			select {
			case err := <-sess.Errors():
				return err
			default:
			}

			if m, outcome := out.lastRun(); m != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[%s: %s]\n", outcome, formatMetrics(*m))
			}

			if save {
				return saveSession(context.WithoutCancel(ctx), cmd, c, sess)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model to use")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().StringVar(&toolsFile, "tools", "", "JSON or YAML file with tool definitions")
	cmd.Flags().StringArrayVar(&images, "image", nil, "image URL to attach (repeatable)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply instead of streaming it")
	cmd.Flags().BoolVar(&save, "save", false, "save the exchange to history")

	return cmd
}

func saveSession(ctx context.Context, cmd *cobra.Command, c config.Config, sess *session.Session) error {
	cs, closer, err := openStore(c)
	if err != nil {
		return err
	}
	defer closer.Close()

	conv := &store.Conversation{
		Messages:   sess.Messages(),
		Tools:      sess.Tools(),
		ToolChoice: sess.ToolChoice(),
		Settings:   sess.Settings(),
	}
	if err := cs.Save(ctx, conv); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "[saved as %s]\n", conv.ID)
	return nil
}
