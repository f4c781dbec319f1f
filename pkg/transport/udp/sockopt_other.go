//go:build !unix

package udp

import "syscall"

// Go enables SO_BROADCAST on UDP sockets already; address reuse is not
// configured on these platforms.
func control(Options) func(network, address string, c syscall.RawConn) error {
	return nil
}
