//go:build !(linux || darwin || freebsd)

package proxy

import "syscall"

// SO_REUSEPORT is not set on this platform.
func listenControl(bool, func(format string, args ...interface{})) func(network, address string, c syscall.RawConn) error {
	return nil
}
