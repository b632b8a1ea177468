package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arnavik/socksd/internal/config"
	"github.com/arnavik/socksd/internal/credentials"
	"github.com/arnavik/socksd/internal/health"
	"github.com/arnavik/socksd/internal/logging"
	"github.com/arnavik/socksd/internal/metrics"
	"github.com/arnavik/socksd/internal/socks5"
)

// verbosityToLevel maps the CLI's ordinal -v count onto a log level the way
// the flag is documented: higher means more detail.
func verbosityToLevel(v int) string {
	switch {
	case v <= 0:
		return "error"
	case v == 1:
		return "warn"
	case v == 2:
		return "info"
	default:
		return "debug"
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath      string
		credentialsPath string
		listenAddress   string
		listenPort      int
		verbosity       int
		wsAddress       string
		wsPath          string
		healthAddress   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the SOCKS5 proxy server",
		Long: `Start the SOCKS5 proxy, accepting CONNECT requests over TCP and,
optionally, over a WebSocket upgrade that carries the same protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = loaded
			}

			if cmd.Flags().Changed("listen-address") || cmd.Flags().Changed("listen-port") {
				cfg.Server.Address = fmt.Sprintf("%s:%d", listenAddress, listenPort)
			}
			if cmd.Flags().Changed("verbosity") {
				cfg.Log.Level = verbosityToLevel(verbosity)
			}
			if credentialsPath != "" {
				cfg.Server.CredentialsFile = credentialsPath
			}
			if cmd.Flags().Changed("ws-address") {
				cfg.WebSocket.Enabled = true
				cfg.WebSocket.Address = wsAddress
			}
			if cmd.Flags().Changed("ws-path") {
				cfg.WebSocket.Path = wsPath
			}
			if cmd.Flags().Changed("health-address") {
				cfg.Health.Enabled = true
				cfg.Health.Address = healthAddress
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			store, err := credentials.Load(cfg.Server.CredentialsFile)
			if err != nil {
				return fmt.Errorf("failed to load credentials: %w", err)
			}
			if store == nil {
				logger.Warn("starting with no authentication configured", logging.KeyComponent, "serve")
			}

			m := metrics.Default()

			server := socks5.NewServer(socks5.ServerConfig{
				Address:            cfg.Server.Address,
				MaxConnections:     cfg.Server.MaxConnections,
				Credentials:        store,
				NegotiationTimeout: cfg.Server.NegotiationTimeout,
				ConnectTimeout:     cfg.Server.ConnectTimeout,
				Logger:             logger,
				Metrics:            m,
			})

			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			logger.Info("socks5 server started", logging.KeyAddress, server.Address().String())

			if cfg.WebSocket.Enabled {
				wsCfg := socks5.WebSocketConfig{
					Address:   cfg.WebSocket.Address,
					Path:      cfg.WebSocket.Path,
					PlainText: cfg.WebSocket.PlainText,
				}
				if cfg.WebSocket.BasicAuth {
					wsCfg.Credentials = store
				}
				if !cfg.WebSocket.PlainText {
					cert, err := tls.LoadX509KeyPair(cfg.WebSocket.TLSCert, cfg.WebSocket.TLSKey)
					if err != nil {
						return fmt.Errorf("failed to load websocket TLS material: %w", err)
					}
					wsCfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
				}
				if err := server.StartWebSocket(wsCfg); err != nil {
					return fmt.Errorf("failed to start websocket listener: %w", err)
				}
				logger.Info("websocket listener started", logging.KeyAddress, server.WebSocketAddress())
			}

			var healthServer *health.Server
			if cfg.Health.Enabled {
				healthCfg := health.DefaultServerConfig()
				healthCfg.Address = cfg.Health.Address
				healthServer = health.NewServer(healthCfg, server)
				if err := healthServer.Start(); err != nil {
					return fmt.Errorf("failed to start health server: %w", err)
				}
				logger.Info("health server started", logging.KeyAddress, healthServer.Address().String())
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("shutting down", slog.String("signal", sig.String()))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if healthServer != nil {
				healthServer.Stop()
			}
			if err := server.StopWithContext(ctx); err != nil {
				logger.Warn("shutdown did not complete cleanly", logging.KeyError, err.Error())
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddress, "listen-address", "127.0.0.1", "address to listen on")
	cmd.Flags().IntVar(&listenPort, "listen-port", 1080, "port to listen on")
	cmd.Flags().CountVarP(&verbosity, "verbosity", "v", "increase log verbosity (repeatable)")
	cmd.Flags().StringVar(&credentialsPath, "credentials", "", "path to a credentials file (omit for no authentication)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML defaults file")
	cmd.Flags().StringVar(&wsAddress, "ws-address", "", "enable the WebSocket listener on this address")
	cmd.Flags().StringVar(&wsPath, "ws-path", "/socks5", "HTTP path for the WebSocket upgrade")
	cmd.Flags().StringVar(&healthAddress, "health-address", "", "enable the /healthz and /metrics HTTP server on this address")

	return cmd
}
