package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/soyeahso/polyground/internal/chat"
	"github.com/soyeahso/polyground/internal/gateway"
	"github.com/soyeahso/polyground/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/tillberg/autorestart"
)

func newServeCmd() *cobra.Command {
	var (
		port      int
		bind      string
		toolsFile string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat gateway (HTTP + WebSocket)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			c, err := loadedConfig()
			if err != nil {
				return err
			}

			if watch {
				go autorestart.RestartOnChange()
				log.Info().Msg("restarting when the binary changes")
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

			cs, closer, err := openStore(c)
			if err != nil {
				return fmt.Errorf("opening conversation store: %w", err)
			}
			defer closer.Close()

			reg := prometheus.NewRegistry()
			streams, err := telemetry.NewObserver(reg)
			if err != nil {
				return err
			}
			requests, err := telemetry.NewHTTPMetrics(reg)
			if err != nil {
				return err
			}

			client := newClient(c)
			srv := gateway.New(c, log,
				gateway.WithDispatcher(client),
				gateway.WithModels(client),
				gateway.WithHooks(hm),
				gateway.WithStore(cs),
				gateway.WithObserver(streams),
				gateway.WithMetrics(reg),
				gateway.WithRequestMetrics(requests),
				gateway.WithTools(tools),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("provider", client.BaseURL()).
				Str("model", c.Sampling.Model).
				Str("store", c.Store.Driver).
				Msg("starting gateway")
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	cmd.Flags().StringVar(&toolsFile, "tools", "", "JSON or YAML file with tools offered to every session")
	cmd.Flags().BoolVar(&watch, "watch", false, "restart when the polyground binary is rebuilt")

	return cmd
}
