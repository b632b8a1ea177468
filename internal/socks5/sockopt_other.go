//go:build !linux

package socks5

import "syscall"

// listenerControl is a no-op on non-Linux platforms; SO_REUSEADDR tuning in
// sockopt_linux.go has no portable equivalent worth the build complexity.
func listenerControl(network, address string, c syscall.RawConn) error {
	return nil
}
