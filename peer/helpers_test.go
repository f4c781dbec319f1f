package peer

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"lanshare/pkg/config"
	"lanshare/pkg/protocol"
)

type datagram struct {
	data []byte
	addr net.Addr
}

// fakeConn is an in-memory transport.PacketConn that records writes.
type fakeConn struct {
	local  *net.UDPAddr
	in     chan datagram
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []datagram
}

func newFakeConn(port int) *fakeConn {
	return &fakeConn{
		local:  &net.UDPAddr{IP: net.IPv4zero, Port: port},
		in:     make(chan datagram, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case d := <-c.in:
		return copy(b, d.data), d.addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, datagram{data: append([]byte(nil), b...), addr: addr})
	return len(b), nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) LocalAddr() net.Addr             { return c.local }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Sent() []datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]datagram(nil), c.sent...)
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// sentMessages parses every recorded control datagram.
func (c *fakeConn) sentMessages(t *testing.T) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, d := range c.Sent() {
		m, err := protocol.Parse(d.data)
		if err != nil {
			t.Fatalf("node sent unparsable datagram %q: %v", d.data, err)
		}
		out = append(out, m)
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	joined   []protocol.PeerAddress
	left     []protocol.PeerAddress
	adverts  []string
	deleted  []string
	progress []int
}

func (o *recordingObserver) PeerJoined(id protocol.PeerAddress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joined = append(o.joined, id)
}

func (o *recordingObserver) PeerLeft(id protocol.PeerAddress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.left = append(o.left, id)
}

func (o *recordingObserver) FileAdvertised(raw string, _ protocol.FileDescriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adverts = append(o.adverts, raw)
}

func (o *recordingObserver) FileDeleted(hash string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, hash)
}

func (o *recordingObserver) DownloadProgress(_ string, percent int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, percent)
}

func (o *recordingObserver) counts() (joined, left, adverts, deleted int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.joined), len(o.left), len(o.adverts), len(o.deleted)
}

func (o *recordingObserver) lastProgress() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.progress) == 0 {
		return -1
	}
	return o.progress[len(o.progress)-1]
}

const testSecret = "s3cret"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Node.Secret = testSecret
	cfg.Node.SharedFolder = t.TempDir()
	cfg.Metrics.LogInterval.Duration = 0
	return cfg
}

// newTestNode builds a node on fake sockets: discovery on 5000, transfer on
// 40000, identity 10.0.0.1.
func newTestNode(t *testing.T, cfg *config.Config, obs Observer) (*Node, *fakeConn, *fakeConn) {
	t.Helper()
	n := newNode(cfg, obs, "10.0.0.1")
	disc := newFakeConn(5000)
	xfer := newFakeConn(40000)
	n.attach(disc, xfer, &net.UDPAddr{IP: net.IPv4bcast, Port: 5000})
	return n, disc, xfer
}

func udpAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip).To4(), Port: port}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errFlaky = errors.New("flaky")
