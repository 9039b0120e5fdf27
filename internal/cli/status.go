package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/polyground/internal/config"
	"github.com/soyeahso/polyground/internal/hooks"
	"github.com/soyeahso/polyground/internal/openai"
	"github.com/soyeahso/polyground/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show polyground paths and a configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "polyground %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s\n", paths.Config)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n", paths.Logs)
			fmt.Fprintln(out)

			if cfgErr != nil {
				fmt.Fprintf(out, "Config:   error loading: %v\n", cfgErr)
				return nil
			}
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:   not found (using defaults)")
			}

			baseURL := cfg.Provider.BaseURL
			if baseURL == "" {
				baseURL = openai.DefaultBaseURL
			}
			key := "not set"
			if cfg.Provider.APIKey != "" {
				key = "set"
			}
			fmt.Fprintf(out, "Provider: %s (api key %s)\n", baseURL, key)

			model := cfg.Sampling.Model
			if model == "" {
				model = "(none)"
			}
			fmt.Fprintf(out, "Model:    %s stream=%v temperature=%g\n", model, cfg.Sampling.Stream, cfg.Sampling.Temperature)
			fmt.Fprintf(out, "Gateway:  port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)

			storePath := cfg.Store.Path
			if storePath == "" {
				storePath = paths.Database()
			}
			fmt.Fprintf(out, "Store:    %s %s\n", cfg.Store.Driver, storePath)

			var hookSummary []string
			for _, event := range hooks.AllEvents {
				if n := len(cfg.Hooks.ByEvent()[event]); n > 0 {
					hookSummary = append(hookSummary, fmt.Sprintf("%s=%d", event, n))
				}
			}
			if len(hookSummary) > 0 {
				fmt.Fprintf(out, "Hooks:    %s\n", strings.Join(hookSummary, " "))
			} else {
				fmt.Fprintln(out, "Hooks:    (none)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
