package socks5

import (
	"io"
	"net"
)

// halfCloser is implemented by connections that support shutting down their
// write direction independently of their read direction (TCP). The WebSocket
// wrapper does not implement it, since a message stream has no half-close
// primitive, so relay skips the half-close for that transport.
type halfCloser interface {
	CloseWrite() error
}

// relayStats receives byte counts for each direction of a relay, for the
// metrics and health components. Either field may be nil.
type relayStats struct {
	onClientToTarget func(n int64)
	onTargetToClient func(n int64)
}

// relay copies data bidirectionally between client and target until both
// directions have seen EOF, half-closing each destination's write side as
// its source direction finishes. Neither direction's read error is treated
// as a protocol failure: by this point the SOCKS5 handshake has already
// succeeded and the connection is simply relaying bytes.
func relay(client, target net.Conn, stats relayStats) error {
	errCh := make(chan error, 2)

	go func() {
		n, err := io.Copy(target, client)
		if stats.onClientToTarget != nil {
			stats.onClientToTarget(n)
		}
		if hc, ok := target.(halfCloser); ok {
			hc.CloseWrite()
		}
		errCh <- err
	}()

	go func() {
		n, err := io.Copy(client, target)
		if stats.onTargetToClient != nil {
			stats.onTargetToClient(n)
		}
		if hc, ok := client.(halfCloser); ok {
			hc.CloseWrite()
		}
		errCh <- err
	}()

	err1 := <-errCh
	err2 := <-errCh
	if err1 != nil {
		return err1
	}
	return err2
}
