//go:build unix

package udp

import (
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

func control(opts Options) func(network, address string, c syscall.RawConn) error {
	if !opts.ReuseAddr && !opts.Broadcast {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if opts.ReuseAddr {
				sockErr = multierr.Append(sockErr, unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1))
			}
			if opts.Broadcast {
				sockErr = multierr.Append(sockErr, unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1))
			}
		})
		return multierr.Append(err, sockErr)
	}
}
