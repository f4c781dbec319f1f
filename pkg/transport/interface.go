package transport

import (
	"net"
	"time"
)

// PacketConn is the datagram socket a node talks through. *net.UDPConn and
// the udp package's Conn both satisfy it; tests substitute in-memory fakes.
type PacketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// Dialer opens a fresh ephemeral socket for one request/response exchange.
type Dialer func() (PacketConn, error)

// Port returns the UDP port a socket is bound to, or 0 if unknown.
func Port(c PacketConn) int {
	if a, ok := c.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}
