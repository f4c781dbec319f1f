package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"lanshare/pkg/transport"
)

var _ transport.PacketConn = (*Conn)(nil)

func TestListenExchange(t *testing.T) {
	ctx := context.Background()
	a, err := Listen(ctx, "127.0.0.1:0", Options{ReuseAddr: true, Broadcast: true, ReadBuffer: 1 << 20, TTL: 1})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer a.Close()
	b, err := Ephemeral(ctx, 0)
	if err != nil {
		t.Fatalf("ephemeral: %v", err)
	}
	defer b.Close()

	if a.Port() == 0 || transport.Port(b) == 0 {
		t.Fatal("expected bound ports")
	}
	if ttl, err := a.TTL(); err != nil || ttl != 1 {
		t.Errorf("ttl = %d, %v", ttl, err)
	}

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: a.Port()}
	if _, err := b.WriteTo([]byte("DISCOVERY:127.0.0.1:1:s"), dst); err != nil {
		t.Fatal(err)
	}
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, src, err := a.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "DISCOVERY:127.0.0.1:1:s" {
		t.Errorf("got %q", buf[:n])
	}
	if src.(*net.UDPAddr).Port != b.Port() {
		t.Errorf("source port %d, want %d", src.(*net.UDPAddr).Port, b.Port())
	}
}

func TestReuseAddrSharesPort(t *testing.T) {
	ctx := context.Background()
	a, err := Listen(ctx, "127.0.0.1:0", Options{ReuseAddr: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	addr := a.LocalAddr().String()

	b, err := Listen(ctx, addr, Options{ReuseAddr: true})
	if err != nil {
		t.Skipf("platform does not share UDP ports with SO_REUSEADDR: %v", err)
	}
	b.Close()
}
