package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse saved conversations",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryRmCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, newest first",
		Args:  cobra.NoArgs,
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

			summaries, err := cs.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "no saved conversations")
				return nil
			}
			for _, s := range summaries {
				fmt.Fprintf(out, "%-36s  %s  %-16s %3d  %s\n",
					s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Model, s.Messages, s.Title)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of conversations (0 for all)")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved conversation",
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
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", conv.Title)
			fmt.Fprintf(out, "model=%s tools=%d choice=%s\n\n", conv.Settings.Model, len(conv.Tools), conv.ToolChoice)
			for i, m := range conv.Messages {
				fmt.Fprintln(out, formatMessage(i, m))
			}
			return nil
		},
	}
}

func newHistoryRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete saved conversations",
		Args:  cobra.MinimumNArgs(1),
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

			for _, id := range args {
				if err := cs.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("deleting %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}
