package udp

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"lanshare/pkg/logger"
)

// Options tune a listening socket.
type Options struct {
	// ReuseAddr lets several nodes on one host share the discovery port.
	ReuseAddr bool
	// Broadcast permits sends to broadcast addresses.
	Broadcast bool
	// ReadBuffer sets SO_RCVBUF when positive.
	ReadBuffer int
	// TTL sets the unicast/broadcast IP TTL when positive.
	TTL int
}

// Conn is an IPv4 UDP socket.
type Conn struct {
	*net.UDPConn
	pc *ipv4.PacketConn
}

// Listen binds a UDP socket on addr ("host:port", port 0 for ephemeral).
func Listen(ctx context.Context, addr string, opts Options) (*Conn, error) {
	lc := net.ListenConfig{Control: control(opts)}
	pconn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	uc := pconn.(*net.UDPConn)
	c := &Conn{UDPConn: uc, pc: ipv4.NewPacketConn(uc)}

	if opts.ReadBuffer > 0 {
		if err := uc.SetReadBuffer(opts.ReadBuffer); err != nil {
			// the kernel may clamp or refuse, the socket still works
			logger.Sugar.Warnf("[UDP] failed to set read buffer to %d: %v", opts.ReadBuffer, err)
		}
	}
	if opts.TTL > 0 {
		if err := c.pc.SetTTL(opts.TTL); err != nil {
			uc.Close()
			return nil, fmt.Errorf("failed to set ttl: %w", err)
		}
	}
	return c, nil
}

// Ephemeral opens a socket on a kernel-chosen port.
func Ephemeral(ctx context.Context, readBuffer int) (*Conn, error) {
	return Listen(ctx, ":0", Options{ReadBuffer: readBuffer})
}

// Port is the bound local port.
func (c *Conn) Port() int {
	return c.LocalAddr().(*net.UDPAddr).Port
}

// TTL reports the socket's IP TTL.
func (c *Conn) TTL() (int, error) {
	return c.pc.TTL()
}
