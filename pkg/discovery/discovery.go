package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"lanshare/pkg/logger"
)

const (
	// ServiceType is the mDNS service type of a lanshare node
	ServiceType = "_lanshare._udp"
	// Domain is the local domain for mDNS
	Domain = "local."
	// TXTVersion is the presence record version
	TXTVersion = "1"
)

// Presence is what a node publishes over mDNS. The shared secret is never part
// of it, so mDNS only helps locate nodes, admission still happens through the
// DISCOVERY exchange.
type Presence struct {
	ID            string
	Address       string
	TransferPort  int
	DiscoveryPort int
}

func (p Presence) instance() string {
	id := p.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "lanshare-" + id
}

func (p Presence) txt() []string {
	return []string{
		"v=" + TXTVersion,
		"id=" + p.ID,
		"addr=" + p.Address,
		"discovery=" + strconv.Itoa(p.DiscoveryPort),
	}
}

// Sighting is a node seen through mDNS.
type Sighting struct {
	Instance      string
	HostName      string
	IPs           []string
	TransferPort  int
	DiscoveryPort int
	ID            string
	Address       string
	Version       string
}

// Advertiser handles service broadcasting
type Advertiser struct {
	server *zeroconf.Server
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Start begins broadcasting p on every interface.
func (a *Advertiser) Start(p Presence) error {
	server, err := zeroconf.Register(p.instance(), ServiceType, Domain, p.TransferPort, p.txt(), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server
	logger.Sugar.Infof("[Discovery] advertising %s on port %d", p.instance(), p.TransferPort)
	return nil
}

// Stop stops broadcasting the service
func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Resolver handles service discovery
type Resolver struct {
	resolver *zeroconf.Resolver
}

func NewResolver() (*Resolver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return &Resolver{resolver: resolver}, nil
}

// Browse reports each lanshare node once until ctx is canceled.
func (r *Resolver) Browse(ctx context.Context) (<-chan Sighting, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan Sighting, 10)

	if err := r.resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse services: %w", err)
	}

	go func() {
		defer close(results)
		seen := make(map[string]bool)

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				s, ok := toSighting(entry)
				if !ok || seen[s.Instance] {
					continue
				}
				seen[s.Instance] = true
				logger.Sugar.Debugf("[Discovery] sighted %s ips=%v port=%d", s.Instance, s.IPs, s.TransferPort)
				select {
				case results <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results, nil
}

// toSighting keeps IPv4 entries only; nodes speak udp4.
func toSighting(entry *zeroconf.ServiceEntry) (Sighting, bool) {
	s := Sighting{
		Instance:     entry.Instance,
		HostName:     entry.HostName,
		TransferPort: entry.Port,
	}
	for _, ip := range entry.AddrIPv4 {
		s.IPs = append(s.IPs, ip.String())
	}
	for _, record := range entry.Text {
		k, v, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		switch k {
		case "v":
			s.Version = v
		case "id":
			s.ID = v
		case "addr":
			s.Address = v
		case "discovery":
			s.DiscoveryPort, _ = strconv.Atoi(v)
		}
	}
	if len(s.IPs) == 0 && s.Address == "" {
		return Sighting{}, false
	}
	return s, true
}
