//go:build linux

package socks5

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// listenerControl is installed as net.ListenConfig.Control. It sets
// SO_REUSEADDR so a restarted server can rebind the address immediately
// instead of waiting out TIME_WAIT.
func listenerControl(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		sysErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sysErr
}
