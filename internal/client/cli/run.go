package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/client/config"
	"github.com/hass-tunnel/ha-tunnel/internal/client/connector"
	"github.com/hass-tunnel/ha-tunnel/internal/client/forwarder"
	"github.com/hass-tunnel/ha-tunnel/internal/client/reconnect"
	"github.com/hass-tunnel/ha-tunnel/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tunnel client in the foreground",
	RunE:  runClient,
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewClient(verbose)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	fwd := forwarder.New(cfg.HAServer, cfg.HATimeoutDuration(), forwarder.DefaultConcurrency, forwarder.DefaultConcurrency, logger)
	defer fwd.Close()

	clientID := uuid.NewString()
	conn := connector.New(strings.TrimRight(cfg.Server, "/")+"/tunnel", clientID, cfg.Secret, fwd, cfg.HeartbeatIntervalDuration(), logger)
	sup := reconnect.New(conn, cfg.ReconnectIntervalDuration(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down on signal")
		cancel()
	}()

	logger.Info("starting tunnel client", zap.String("server", cfg.Server))
	sup.Run(ctx)
	return nil
}
