package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"chainchat/api"
	"chainchat/discovery"
	"chainchat/messenger"
)

const defaultRefreshInterval = 15 * time.Second

func newServeCommand() *cobra.Command {
	var (
		listen          string
		refreshInterval time.Duration
		noDiscovery     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, refresh history periodically and advertise on mDNS.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, appOptions{chain: true, logOut: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.cfg.APIListenAddress
			}
			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", listen, err)
			}

			controller := a.controller
			if a.provider != nil {
				if _, err := controller.Connect(ctx); err != nil {
					a.logger.Warn("wallet not connected at startup", "error", err)
				}
			} else {
				a.logger.Warn("no wallet key configured, sending is disabled until one is added")
			}

			hub := api.NewHub()
			go hub.Run(ctx, controller.Notices())
			go refreshLoop(ctx, controller, refreshInterval, a.logger)

			if a.cfg.Discovery() && !noDiscovery {
				svc := startDiscovery(a, listener.Addr())
				defer svc.Stop()
			}

			if a.cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := api.NewRouter(api.RouterOptions{
				Handler:  api.NewHandler(controller, hub, a.logger),
				Gatherer: a.registry,
				Logger:   a.logger,
			})

			fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (press Ctrl+C to stop)\n", listener.Addr())
			return api.Serve(ctx, listener, router, a.logger)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address. Defaults to api_listen_address from the config.")
	cmd.Flags().DurationVar(&refreshInterval, "refresh-interval", defaultRefreshInterval, "How often to fetch history from the chain.")
	cmd.Flags().BoolVar(&noDiscovery, "no-discovery", false, "Do not advertise the API on mDNS.")
	return cmd
}

func refreshLoop(ctx context.Context, controller *messenger.Controller, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := controller.Refresh(ctx); err != nil && ctx.Err() == nil {
			logger.Debug("scheduled refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// startDiscovery advertises the API. Failures are logged and leave the
// server running without an announcement.
func startDiscovery(a *app, addr net.Addr) *discovery.Service {
	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}

	svc, err := discovery.Start(discovery.Config{
		InstanceID: a.cfg.InstanceID,
		APIPort:    port,
		Contract:   a.cfg.ContractAddress,
		ChainID:    uint64(a.cfg.ChainID),
	})
	if err != nil {
		a.logger.Warn("discovery startup failed", "error", err)
		return nil
	}

	go logDiscoveryEvents(svc.Scanner.Events(), a.logger)
	a.logger.Info("discovery running", "service", discovery.DefaultService, "port", port)
	return svc
}

func logDiscoveryEvents(events <-chan discovery.Event, logger *slog.Logger) {
	for event := range events {
		switch event.Type {
		case discovery.EventNodeUpserted:
			logger.Info("chainchat node available",
				"instance_id", event.Node.InstanceID,
				"name", event.Node.Name,
				"addresses", event.Node.Addresses,
				"port", event.Node.Port,
				"chain_id", event.Node.ChainID,
			)
		case discovery.EventNodeRemoved:
			logger.Info("chainchat node removed", "instance_id", event.Node.InstanceID)
		default:
			logger.Debug("discovery event", "type", event.Type, "instance_id", event.Node.InstanceID)
		}
	}
}
