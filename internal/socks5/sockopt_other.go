//go:build !linux

package socks5

import "syscall"

// setListenerSocketOptions is a no-op on non-Linux platforms. The
// Linux-specific version in sockopt_linux.go sets SO_REUSEADDR.
func setListenerSocketOptions(network, address string, c syscall.RawConn) error {
	return nil
}

// setConnSocketOptions is a no-op on non-Linux platforms. The
// Linux-specific version in sockopt_linux.go sets TCP_NODELAY.
func setConnSocketOptions(rc syscall.RawConn) error {
	return nil
}
