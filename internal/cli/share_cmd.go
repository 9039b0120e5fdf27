package cli

import (
	"fmt"

	"github.com/soyeahso/polyground/internal/share"
	"github.com/soyeahso/polyground/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share <conversation-id>",
		Short: "Print a link that reopens a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadedConfig()
			if err != nil {
				return err
			}
			cs, closer, err := openStore(c)
			if err != nil {
				return err
			}
			defer closer.Close()

			conv, err := cs.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			link, err := share.Encode(c.Share.BaseURL, share.State{
				Messages:   conv.Messages,
				Tools:      conv.Tools,
				ToolChoice: conv.ToolChoice,
				Settings:   conv.Settings,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}

	cmd.AddCommand(newShareOpenCmd())
	return cmd
}

func newShareOpenCmd() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "open <url>",
		Short: "Decode a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := share.Decode(args[0], log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, m := range state.Messages {
				fmt.Fprintln(out, formatMessage(i, m))
			}
			if len(state.Tools) > 0 {
				fmt.Fprintln(out, "\ntools:")
				for _, t := range state.Tools {
					fmt.Fprintf(out, "  %s\n", t.Function.Name)
				}
			}
			fmt.Fprintf(out, "\ntool choice: %s\n", state.ToolChoice)
			settings, err := yaml.Marshal(state.Settings)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "settings:\n%s", settings)

			if !save {
				return nil
			}
			c, err := loadedConfig()
			if err != nil {
				return err
			}
			cs, closer, err := openStore(c)
			if err != nil {
				return err
			}
			defer closer.Close()

			conv := &store.Conversation{
				Messages:   state.Messages,
				Tools:      state.Tools,
				ToolChoice: state.ToolChoice,
				Settings:   state.Settings,
			}
			if err := cs.Save(cmd.Context(), conv); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nSaved as %s\n", conv.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "save the decoded conversation to history")
	return cmd
}
