package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hass-tunnel/ha-tunnel/internal/clientip"
	"github.com/hass-tunnel/ha-tunnel/internal/logging"
	"github.com/hass-tunnel/ha-tunnel/internal/server"
	"github.com/hass-tunnel/ha-tunnel/internal/server/config"
	"github.com/hass-tunnel/ha-tunnel/internal/server/ingress"
	tlsmgr "github.com/hass-tunnel/ha-tunnel/internal/server/tls"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tunnel server in the foreground",
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewServer(verbose)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	srv := server.New(cfg, logger)

	trustedProxies := parseTrustedProxies(cfg.TrustedProxies)
	mux := http.NewServeMux()
	mux.HandleFunc("/tunnel", srv.HandleTunnel)
	mux.Handle("/", &ingress.Handler{
		Dispatch:       srv.Dispatcher(),
		Logger:         logger,
		ClientTimeout:  cfg.ClientTimeoutDuration(),
		RequestTimeout: cfg.RequestTimeoutDuration(),
		ProxyMode:      clientip.ParseProxyMode(cfg.ProxyMode),
		TrustedProxies: trustedProxies,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down on signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		cancel()
	}()

	if cfg.AutoTLS {
		cacheDir := cfg.TLSCacheDir
		if cacheDir == "" {
			cacheDir = tlsmgr.DefaultCacheDir()
		}
		mgr := tlsmgr.NewAutoCertManager(cfg.TLSDomain, cacheDir, logger)
		httpServer.TLSConfig = mgr.GetTLSConfig()

		challengeServer := &http.Server{Addr: ":80", Handler: mgr.HTTPHandler()}
		go challengeServer.ListenAndServe()

		logger.Info("listening with AutoTLS", zap.String("domain", cfg.TLSDomain))
		err = httpServer.ListenAndServeTLS("", "")
	} else {
		logger.Info("listening", zap.String("addr", cfg.Addr()))
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func parseTrustedProxies(raw []string) []net.IP {
	var out []net.IP
	for _, s := range raw {
		if ip := net.ParseIP(s); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}
