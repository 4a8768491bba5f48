//go:build linux

package socks5

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setListenerSocketOptions configures the listening socket for fast
// restart and responsive accept behavior. Called via
// net.ListenConfig.Control before bind(2)/listen(2).
func setListenerSocketOptions(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		// Allow immediate rebind after restart instead of waiting out
		// TIME_WAIT on the old socket.
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sysErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sysErr
}

// setConnSocketOptions configures an accepted client connection for low
// handshake latency: SOCKS5 negotiation is a string of small, latency-
// sensitive round trips, so Nagle's algorithm works against it.
func setConnSocketOptions(rc syscall.RawConn) error {
	var sysErr error
	err := rc.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
			sysErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sysErr
}
