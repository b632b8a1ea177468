package socks5

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Dialer abstracts outbound TCP dialing so tests can substitute a fake
// network without touching the loopback interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DirectDialer dials the real network using a *net.Dialer.
type DirectDialer struct {
	Dialer net.Dialer
}

func (d *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.Dialer.DialContext(ctx, network, address)
}

const (
	defaultNegotiationTimeout = 10 * time.Second
	defaultConnectTimeout     = 15 * time.Second
)

// handlerMetrics is the subset of the metrics component a Handler reports
// to. It is satisfied by *metrics.Metrics; tests can pass a no-op.
type handlerMetrics interface {
	SOCKS5ConnectionOpened()
	SOCKS5ConnectionClosed()
	SOCKS5AuthFailure()
	SOCKS5ConnectLatency(d time.Duration)
	SOCKS5BytesTransferred(clientToTarget, targetToClient int64)
}

type noopMetrics struct{}

func (noopMetrics) SOCKS5ConnectionOpened()                                    {}
func (noopMetrics) SOCKS5ConnectionClosed()                                    {}
func (noopMetrics) SOCKS5AuthFailure()                                         {}
func (noopMetrics) SOCKS5ConnectLatency(time.Duration)                         {}
func (noopMetrics) SOCKS5BytesTransferred(clientToTarget, targetToClient int64) {}

// Handler drives one session's worth of the SOCKS5 state machine: method
// negotiation, optional username/password sub-negotiation, request parsing,
// dial, and relay. One Handler is shared by every connection the server
// accepts; all of its fields are read-only after construction.
type Handler struct {
	// Credentials selects the authentication policy: nil offers only
	// MethodNoAuth, non-nil offers only MethodUserPass backed by the store.
	Credentials CredentialStore

	Dialer   Dialer
	Resolver hostResolver

	NegotiationTimeout time.Duration
	ConnectTimeout     time.Duration

	Logger  *slog.Logger
	Metrics handlerMetrics
}

// NewHandler builds a Handler with the given credential policy and sensible
// defaults for everything else. Pass a nil store to run without
// authentication.
func NewHandler(credentials CredentialStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Credentials:        credentials,
		Dialer:             &DirectDialer{},
		Resolver:           net.DefaultResolver,
		NegotiationTimeout: defaultNegotiationTimeout,
		ConnectTimeout:     defaultConnectTimeout,
		Logger:             logger,
		Metrics:            noopMetrics{},
	}
}

func (h *Handler) authenticator() Authenticator {
	if h.Credentials == nil {
		return NoAuthAuthenticator{}
	}
	return &UserPassAuthenticator{Credentials: h.Credentials}
}

// Handle runs the full SOCKS5 session over conn: negotiation, optional
// authentication, request parsing, dial, and relay. conn is not closed by
// Handle; the caller (Server.handleConn) owns that.
func (h *Handler) Handle(conn net.Conn) error {
	auth := h.authenticator()

	conn.SetDeadline(time.Now().Add(h.negotiationTimeout()))

	if err := h.negotiateMethod(conn, auth.Method()); err != nil {
		return err
	}

	if auth.Method() != MethodNoAuth {
		username, err := auth.Authenticate(conn, conn)
		if err != nil {
			if err == ErrInvalidCredentials {
				h.Metrics.SOCKS5AuthFailure()
			}
			return err
		}
		h.Logger.Debug("socks5 authenticated", slog.String("username", username))
	}

	req, err := parseRequest(conn, h.Resolver, h.resolveTimeout)
	if err != nil {
		if cerr, ok := err.(*CommandError); ok {
			writeReply(conn, byte(cerr.Kind), nil, 0)
		}
		return err
	}

	return h.handleConnect(conn, req)
}

func (h *Handler) negotiationTimeout() time.Duration {
	if h.NegotiationTimeout > 0 {
		return h.NegotiationTimeout
	}
	return defaultNegotiationTimeout
}

func (h *Handler) connectTimeout() time.Duration {
	if h.ConnectTimeout > 0 {
		return h.ConnectTimeout
	}
	return defaultConnectTimeout
}

func (h *Handler) resolveTimeout() time.Duration {
	return h.connectTimeout()
}

// negotiateMethod reads the client's greeting and selects wantedMethod if
// offered, writing the method-selection reply before reporting any failure
// (RFC 1928 section 3): the client always learns which method, if any, was
// chosen before the connection closes.
//
//	+----+----------+----------+
//	|VER | NMETHODS | METHODS  |
//	+----+----------+----------+
//	| 1  |    1     | 1 to 255 |
//	+----+----------+----------+
func (h *Handler) negotiateMethod(conn net.Conn, wantedMethod byte) error {
	ver, err := readByte(conn)
	if err != nil {
		return err
	}
	if ver != socks5Version {
		return &InvalidVersionError{Expected: socks5Version, Got: ver}
	}

	n, err := readByte(conn)
	if err != nil {
		return err
	}
	methods := make([]byte, n)
	if err := readFull(conn, methods); err != nil {
		return err
	}

	selected := byte(MethodNoAcceptable)
	for _, m := range methods {
		if m == wantedMethod {
			selected = wantedMethod
			break
		}
	}

	if err := writeAll(conn, []byte{socks5Version, selected}); err != nil {
		return err
	}
	if selected == MethodNoAcceptable {
		return ErrNoAcceptableMethod
	}
	return nil
}

// handleConnect dials the requested destination and, on success, relays
// traffic until both sides close. A dial failure is reported to the client
// as the matching CommandError reply. The deadline set by Handle is cleared
// before the dial, which is bounded by the connect timeout instead; no
// deadline applies to the relay.
func (h *Handler) handleConnect(conn net.Conn, req *Request) error {
	target := net.JoinHostPort(req.DestIP.String(), strconv.Itoa(int(req.Port)))

	conn.SetDeadline(time.Time{})

	ctx, cancel := context.WithTimeout(context.Background(), h.connectTimeout())
	defer cancel()

	start := time.Now()
	targetConn, err := h.Dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		kind := mapDialError(err, ctx)
		writeReply(conn, byte(kind), nil, 0)
		return NewCommandError(kind)
	}
	h.Metrics.SOCKS5ConnectLatency(time.Since(start))
	defer targetConn.Close()

	// The reply always reports an all-zero IPv4 bind address: the client
	// connects onward through this same proxy, so the proxy's outbound
	// local address is never meaningful to it.
	if err := writeReply(conn, 0x00, nil, 0); err != nil {
		return err
	}

	h.Metrics.SOCKS5ConnectionOpened()
	defer h.Metrics.SOCKS5ConnectionClosed()

	var up, down atomic.Int64
	relayErr := relay(conn, targetConn, relayStats{
		onClientToTarget: func(n int64) { up.Add(n); h.Metrics.SOCKS5BytesTransferred(n, 0) },
		onTargetToClient: func(n int64) { down.Add(n); h.Metrics.SOCKS5BytesTransferred(0, n) },
	})

	h.Logger.Debug("socks5 relay finished",
		slog.String("target", target),
		slog.String("sent", humanize.Bytes(uint64(up.Load()))),
		slog.String("received", humanize.Bytes(uint64(down.Load()))),
		slog.Duration("duration", time.Since(start)))

	return relayErr
}
