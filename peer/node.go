package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"lanshare/pkg/config"
	"lanshare/pkg/discovery"
	"lanshare/pkg/logger"
	"lanshare/pkg/monitor"
	"lanshare/pkg/protocol"
	"lanshare/pkg/storage"
	"lanshare/pkg/transport"
	"lanshare/pkg/transport/udp"
)

// LocalIdentity is how this node presents itself. Port is the transfer
// socket's port and is fixed once Start has bound it.
type LocalIdentity struct {
	Address    string
	Port       int
	Secret     string
	SharedRoot string
}

func (l LocalIdentity) PeerAddress() protocol.PeerAddress {
	return protocol.PeerAddress{IP: l.Address, Port: l.Port}
}

// Node is one participant on the LAN: it discovers peers, advertises the
// shared folder, serves chunks and downloads files.
type Node struct {
	cfg      *config.Config
	id       string
	identity LocalIdentity
	observer Observer
	metrics  *monitor.Metrics

	membership *Membership
	catalog    *Catalog
	scanner    *storage.Scanner

	discoveryConn transport.PacketConn
	transferConn  transport.PacketConn
	broadcastAddr *net.UDPAddr
	dial          transport.Dialer

	serveSem *semaphore.Weighted
	limiter  *rate.Limiter
	serving  sync.WaitGroup

	advertisedLock sync.Mutex
	advertised     map[string]struct{}

	downloads *xsync.Map[string, *DownloadTracker]
	idleWait  time.Duration

	lifecycleLock sync.Mutex
	started       bool
	stopped       bool
	cancel        context.CancelFunc
	group         *errgroup.Group
	mdns          *discovery.Advertiser
}

// NewNode validates cfg and prepares a node. Sockets are bound by Start.
func NewNode(cfg *config.Config, observer Observer) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	addr := cfg.Node.Address
	if addr == "" {
		var err error
		if addr, err = localIPv4(); err != nil {
			return nil, err
		}
	}
	return newNode(cfg, observer, addr), nil
}

func newNode(cfg *config.Config, observer Observer, address string) *Node {
	if observer == nil {
		observer = NopObserver{}
	}
	n := &Node{
		cfg: cfg,
		id:  uuid.NewString(),
		identity: LocalIdentity{
			Address:    address,
			Secret:     cfg.Node.Secret,
			SharedRoot: cfg.Node.SharedFolder,
		},
		observer:   observer,
		metrics:    monitor.NewMetrics(),
		membership: NewMembership(cfg.Network.SuppressionWindow.Duration),
		catalog:    NewCatalog(),
		scanner:    storage.NewScanner(cfg.Node.SharedFolder, cfg.Node.ExcludedFolders, storage.NewHashCache()),
		serveSem:   semaphore.NewWeighted(int64(cfg.Transfer.MaxConcurrentServes)),
		advertised: make(map[string]struct{}),
		downloads:  xsync.NewMap[string, *DownloadTracker](),
		idleWait:   500 * time.Millisecond,
	}
	if cfg.Transfer.FragmentRate > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(cfg.Transfer.FragmentRate), cfg.Transfer.FragmentBurst)
	}
	n.dial = func() (transport.PacketConn, error) {
		return udp.Ephemeral(context.Background(), cfg.Transfer.ReadBuffer)
	}
	return n
}

// localIPv4 picks the first up, non-loopback IPv4 interface address.
func localIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}
	logger.Sugar.Warnf("[Node] no LAN IPv4 address found, falling back to loopback")
	return "127.0.0.1", nil
}

// Start binds the discovery and transfer sockets and runs the listeners and
// timers until Stop is called or ctx ends.
func (n *Node) Start(ctx context.Context) error {
	n.lifecycleLock.Lock()
	defer n.lifecycleLock.Unlock()
	if n.started {
		return ErrAlreadyStarted
	}

	netCfg := n.cfg.Network
	disc, err := udp.Listen(ctx, ":"+strconv.Itoa(netCfg.DiscoveryPort), udp.Options{
		ReuseAddr: netCfg.ReuseAddr,
		Broadcast: true,
		TTL:       1,
	})
	if err != nil {
		return fmt.Errorf("failed to bind discovery socket: %w", err)
	}
	xfer, err := udp.Listen(ctx, ":0", udp.Options{
		Broadcast:  true,
		ReadBuffer: n.cfg.Transfer.ReadBuffer,
	})
	if err != nil {
		disc.Close()
		return fmt.Errorf("failed to bind transfer socket: %w", err)
	}

	// a zero discovery port means an ephemeral one, used when several nodes
	// share a host in tests
	port := netCfg.DiscoveryPort
	if port == 0 {
		port = disc.Port()
	}
	bcast := &net.UDPAddr{IP: net.ParseIP(netCfg.BroadcastAddress).To4(), Port: port}

	n.attach(disc, xfer, bcast)
	n.run(ctx)

	if n.cfg.Node.MDNS {
		n.mdns = discovery.NewAdvertiser()
		if err := n.mdns.Start(discovery.Presence{
			ID:            n.id,
			Address:       n.identity.Address,
			TransferPort:  n.identity.Port,
			DiscoveryPort: port,
		}); err != nil {
			logger.Sugar.Warnf("[Node] mDNS advertisement disabled: %v", err)
			n.mdns = nil
		}
	}

	logger.Sugar.Infof("[Node] %s started: transfer=%s discovery=:%d broadcast=%s shared=%s",
		n.id, n.identity.PeerAddress(), port, bcast, n.identity.SharedRoot)
	return nil
}

// attach installs the sockets. The transfer socket's port becomes the
// node's identity port.
func (n *Node) attach(disc, xfer transport.PacketConn, bcast *net.UDPAddr) {
	n.discoveryConn = disc
	n.transferConn = xfer
	n.broadcastAddr = bcast
	n.identity.Port = transport.Port(xfer)
}

func (n *Node) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	n.cancel = cancel
	n.group = g
	n.started = true

	g.Go(func() error {
		return n.listen(gctx, n.discoveryConn, "discovery", n.handleDiscoveryDatagram)
	})
	g.Go(func() error {
		return n.listen(gctx, n.transferConn, "transfer", n.handleTransferDatagram)
	})
	g.Go(func() error {
		return every(gctx, n.cfg.Network.DiscoveryInterval.Duration, n.broadcastDiscovery)
	})
	g.Go(func() error {
		return every(gctx, n.cfg.Network.CatalogInterval.Duration, n.advertiseCatalog)
	})
	if d := n.cfg.Metrics.LogInterval.Duration; d > 0 {
		g.Go(func() error {
			n.metrics.LogPeriodic(gctx, d)
			return nil
		})
	}
	if addr := n.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error {
			if err := n.metrics.Serve(gctx, addr); err != nil {
				logger.Sugar.Errorf("[Node] metrics endpoint failed: %v", err)
			}
			return nil
		})
	}
	// blocked reads return once their socket closes
	g.Go(func() error {
		<-gctx.Done()
		return multierr.Combine(n.discoveryConn.Close(), n.transferConn.Close())
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

func (n *Node) listen(ctx context.Context, conn transport.PacketConn, socket string, handle func(context.Context, []byte, *net.UDPAddr)) error {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		size, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Sugar.Errorf("[Node] %s socket receive failed: %v", socket, err)
			return fmt.Errorf("%s socket: %w", socket, err)
		}
		n.metrics.DatagramsReceived.WithLabelValues(socket).Inc()
		src, _ := addr.(*net.UDPAddr)
		handle(ctx, buf[:size], src)
	}
}

// Stop announces departure, withdraws advertised files, then closes the
// sockets and waits for every listener and in-flight serve to return.
func (n *Node) Stop() error {
	n.lifecycleLock.Lock()
	defer n.lifecycleLock.Unlock()
	if !n.started {
		return ErrNotStarted
	}
	if n.stopped {
		return nil
	}
	n.stopped = true

	n.sendDisconnect()
	n.withdrawAdvertised()

	if n.mdns != nil {
		n.mdns.Stop()
	}
	n.cancel()
	err := n.group.Wait()
	n.serving.Wait()
	n.membership.Close()
	n.metrics.ConnectedPeers.Set(0)

	logger.Sugar.Infof("[Node] %s stopped", n.id)
	return err
}

// Wait blocks until the node's listeners exit.
func (n *Node) Wait() error {
	n.lifecycleLock.Lock()
	g := n.group
	n.lifecycleLock.Unlock()
	if g == nil {
		return ErrNotStarted
	}
	return g.Wait()
}

func (n *Node) ID() string                { return n.id }
func (n *Node) Identity() LocalIdentity   { return n.identity }
func (n *Node) Metrics() *monitor.Metrics { return n.metrics }

// Peers lists the connected peers.
func (n *Node) Peers() []protocol.PeerAddress { return n.membership.Peers() }

// Files lists the catalogued files held by at least one other node. The node
// hears its own adverts, so files only it holds are left out.
func (n *Node) Files() []protocol.FileDescriptor {
	var out []protocol.FileDescriptor
	for _, fd := range n.catalog.Files() {
		if len(n.PeersWithFile(fd.Hash)) > 0 {
			out = append(out, fd)
		}
	}
	return out
}

// PeersWithFile lists the other nodes known to hold hash.
func (n *Node) PeersWithFile(hash string) []protocol.PeerAddress {
	self := n.identity.PeerAddress()
	holders := n.catalog.PeersWithFile(hash)
	out := holders[:0]
	for _, p := range holders {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

// LocalFiles scans the shared folder.
func (n *Node) LocalFiles() ([]storage.LocalFile, error) { return n.scanner.Scan() }

// Downloads snapshots every download in flight.
func (n *Node) Downloads() []DownloadSnapshot {
	var out []DownloadSnapshot
	n.downloads.Range(func(_ string, t *DownloadTracker) bool {
		t.UpdateSpeed()
		out = append(out, t.Snapshot())
		return true
	})
	return out
}
