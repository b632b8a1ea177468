package socks5

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ServerConfig holds the settings needed to construct a Server.
type ServerConfig struct {
	// Address to listen on, e.g. "127.0.0.1:1080" or ":1080".
	Address string

	// MaxConnections limits concurrent TCP connections; 0 means unlimited.
	MaxConnections int

	// Credentials selects the authentication policy: nil runs with
	// MethodNoAuth only, non-nil offers MethodUserPass backed by the store.
	Credentials CredentialStore

	NegotiationTimeout time.Duration
	ConnectTimeout     time.Duration

	Dialer Dialer

	Logger  *slog.Logger
	Metrics handlerMetrics
}

// DefaultServerConfig returns the server's out-of-the-box settings: no
// authentication, a generous connection cap, and the library defaults for
// every timeout.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:            "127.0.0.1:1080",
		MaxConnections:     1000,
		NegotiationTimeout: defaultNegotiationTimeout,
		ConnectTimeout:     defaultConnectTimeout,
	}
}

// Server accepts TCP connections and drives each through a shared Handler.
// It also owns an optional WebSocket listener that tunnels the identical
// SOCKS5 session over a different transport.
type Server struct {
	cfg      ServerConfig
	handler  *Handler
	listener net.Listener

	wsListener *WebSocketListener

	tracker *connTracker[net.Conn]

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServer builds a Server and its Handler from cfg.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Dialer == nil {
		cfg.Dialer = &DirectDialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}

	handler := NewHandler(cfg.Credentials, cfg.Logger)
	handler.Dialer = cfg.Dialer
	handler.Metrics = cfg.Metrics
	if cfg.NegotiationTimeout > 0 {
		handler.NegotiationTimeout = cfg.NegotiationTimeout
	}
	if cfg.ConnectTimeout > 0 {
		handler.ConnectTimeout = cfg.ConnectTimeout
	}

	return &Server{
		cfg:     cfg,
		handler: handler,
		tracker: newConnTracker[net.Conn](),
		stopCh:  make(chan struct{}),
	}
}

// Start binds the listening socket, applying the platform socket tuning
// from listenerControl, and begins accepting connections in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("socks5: server already running")
	}

	lc := net.ListenConfig{Control: listenerControl}
	listener, err := lc.Listen(context.Background(), "tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("socks5: listen: %w", err)
	}

	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.cfg.Logger.Info("socks5 listening", slog.String("addr", listener.Addr().String()))
	return nil
}

// Stop closes the listener, any WebSocket listener, and every tracked
// connection, then waits for their goroutines to exit.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)

		if s.listener != nil {
			err = s.listener.Close()
		}
		if s.wsListener != nil {
			s.wsListener.Stop()
		}
		s.tracker.closeAll()
	})

	s.wg.Wait()
	return err
}

// StopWithContext stops the server, returning ctx.Err() if it does not
// finish before ctx is done.
func (s *Server) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.Stop() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Address returns the listener's bound address, or nil before Start.
func (s *Server) Address() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of currently active TCP connections.
func (s *Server) ConnectionCount() int64 {
	return s.tracker.count()
}

// IsRunning reports whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// StartWebSocket starts an additional listener that tunnels SOCKS5 over
// WebSocket, using the same Handler (and therefore the same authentication
// policy, dialer, and metrics) as the TCP listener.
func (s *Server) StartWebSocket(cfg WebSocketConfig) error {
	if s.wsListener != nil && s.wsListener.IsRunning() {
		return fmt.Errorf("socks5: websocket listener already running")
	}

	listener, err := NewWebSocketListener(cfg, s.handler)
	if err != nil {
		return fmt.Errorf("socks5: create websocket listener: %w", err)
	}
	if err := listener.Start(); err != nil {
		return fmt.Errorf("socks5: start websocket listener: %w", err)
	}

	s.wsListener = listener
	return nil
}

// StopWebSocket stops the WebSocket listener, if running.
func (s *Server) StopWebSocket() error {
	if s.wsListener == nil {
		return nil
	}
	return s.wsListener.Stop()
}

// WebSocketAddress returns the WebSocket listener's address, or "" if not running.
func (s *Server) WebSocketAddress() string {
	if s.wsListener == nil || !s.wsListener.IsRunning() {
		return ""
	}
	return s.wsListener.Address()
}

// WebSocketConnectionCount returns the number of active WebSocket sessions.
func (s *Server) WebSocketConnectionCount() int64 {
	if s.wsListener == nil {
		return 0
	}
	return s.wsListener.ConnectionCount()
}

// acceptLoop accepts connections until the listener closes. A transient
// accept error (the listener ran out of file descriptors, say) backs off
// briefly rather than spinning; a closed-listener error simply ends the loop.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && (netErr.Timeout() || netErr.Temporary()) {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff *= 2
				}
				if backoff > time.Second {
					backoff = time.Second
				}
				s.cfg.Logger.Warn("socks5 accept error, backing off", slog.Duration("backoff", backoff), slog.Any("error", err))
				time.Sleep(backoff)
				continue
			}

			s.cfg.Logger.Error("socks5 accept failed, stopping", slog.Any("error", err))
			return
		}
		backoff = 0

		if s.cfg.MaxConnections > 0 && s.tracker.count() >= int64(s.cfg.MaxConnections) {
			conn.Close()
			continue
		}

		s.tracker.add(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn runs one connection through the shared Handler and always
// removes it from the tracker and closes it on return.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.tracker.remove(conn)
	defer conn.Close()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	if err := s.handler.Handle(conn); err != nil {
		s.cfg.Logger.Debug("socks5 session ended",
			slog.String("remote", conn.RemoteAddr().String()),
			slog.Any("error", err))
	}
}
