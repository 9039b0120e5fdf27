package cli

import (
	"fmt"
	"io"

	"github.com/soyeahso/polyground/internal/config"
	"github.com/soyeahso/polyground/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths   config.Paths
	cfg     config.Config
	cfgErr  error
	log     *logging.Logger
	logFile io.Closer
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "polyground",
		Short: "polyground: a chat playground for OpenAI-compatible APIs",
		Long: "polyground sends chat completions to any OpenAI-compatible endpoint, " +
			"streams the answer as it arrives, and keeps conversations you can resume or share.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			cfg, cfgErr = config.Load(paths.Config)
			if cfgErr != nil {
				cfg = config.Defaults()
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			log, logFile, err = logging.FromOptions(logging.Options{
				Level:        cfg.Logging.Level,
				ConsoleStyle: cfg.Logging.ConsoleStyle,
				File:         cfg.Logging.File,
				Console:      cmd.ErrOrStderr(),
			})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logFile != nil {
				return logFile.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.polyground/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newModelsCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newShareCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// loadedConfig returns the configuration read by the root command, failing
// when the file could not be parsed or does not validate.
func loadedConfig() (config.Config, error) {
	if cfgErr != nil {
		return cfg, fmt.Errorf("loading %s: %w", paths.Config, cfgErr)
	}
	issues := config.Validate(&cfg)
	if len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
