//go:build linux || darwin || freebsd

package proxy

import (
	"syscall"

	"golang.org/x/sys/unix"
)

var setReusePort = func(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// listenControl enables SO_REUSEPORT when asked. The option is best effort:
// a kernel that refuses it still gets a plain listener.
func listenControl(reusePort bool, logf func(format string, args ...interface{})) func(network, address string, c syscall.RawConn) error {
	if !reusePort {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = setReusePort(fd)
		})
		if err != nil {
			return err
		}
		if sockErr != nil {
			logf("[Proxy] SO_REUSEPORT not available on %s, continuing without it: %v", address, sockErr)
		}
		return nil
	}
}
