package peer

import (
	"fmt"
	"net"

	"lanshare/pkg/logger"
	"lanshare/pkg/protocol"
	"lanshare/pkg/transport"
)

func (n *Node) presence() protocol.Presence {
	return protocol.Presence{From: n.identity.PeerAddress(), Secret: n.identity.Secret}
}

func send(conn transport.PacketConn, msg protocol.Message, to net.Addr) error {
	if _, err := conn.WriteTo(msg.Encode(), to); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", msg.Tag(), to, err)
	}
	return nil
}

// broadcastDiscovery announces this node on the discovery port.
func (n *Node) broadcastDiscovery() {
	msg := protocol.Discovery{Presence: n.presence()}
	if err := send(n.transferConn, msg, n.broadcastAddr); err != nil {
		logger.Sugar.Warnf("[Node] %v", err)
	}
}

// sendDiscoveryResponse answers a DISCOVERY on the sender's discovery port.
func (n *Node) sendDiscoveryResponse(ip net.IP) {
	to := &net.UDPAddr{IP: ip, Port: n.broadcastAddr.Port}
	msg := protocol.DiscoveryResponse{Presence: n.presence()}
	if err := send(n.transferConn, msg, to); err != nil {
		logger.Sugar.Warnf("[Node] %v", err)
	}
}

// advertiseCatalog sends a FILE message for every shared file to every
// connected peer. Nothing is scanned while no peer is connected.
func (n *Node) advertiseCatalog() {
	peers := n.membership.Peers()
	if len(peers) == 0 {
		return
	}
	files, err := n.scanner.Scan()
	if err != nil {
		logger.Sugar.Warnf("[Node] failed to scan shared folder: %v", err)
		return
	}

	addrs := make([]*net.UDPAddr, 0, len(peers))
	for _, p := range peers {
		a, err := p.UDPAddr()
		if err != nil {
			logger.Sugar.Debugf("[Node] %v", err)
			continue
		}
		addrs = append(addrs, a)
	}

	self := n.identity.PeerAddress()
	for _, f := range files {
		msg := protocol.FileAdvert{
			Secret: n.identity.Secret,
			File: protocol.FileDescriptor{
				Name:      f.Name,
				Size:      f.Size,
				OwnerIP:   self.IP,
				OwnerPort: self.Port,
				Hash:      f.Hash,
			},
		}
		n.advertisedLock.Lock()
		n.advertised[f.Hash] = struct{}{}
		n.advertisedLock.Unlock()

		for _, a := range addrs {
			if err := send(n.transferConn, msg, a); err != nil {
				logger.Sugar.Debugf("[Node] %v", err)
			}
		}
	}
	logger.Sugar.Debugf("[Node] advertised %d files to %d peers", len(files), len(addrs))
}

// sendDisconnect broadcasts DISCONNECT from the discovery socket.
func (n *Node) sendDisconnect() {
	msg := protocol.Disconnect{Presence: n.presence()}
	if err := send(n.discoveryConn, msg, n.broadcastAddr); err != nil {
		logger.Sugar.Warnf("[Node] %v", err)
	}
}

// withdrawAdvertised sends DELETE for every hash this node advertised to
// every connected peer.
func (n *Node) withdrawAdvertised() {
	n.advertisedLock.Lock()
	hashes := make([]string, 0, len(n.advertised))
	for h := range n.advertised {
		hashes = append(hashes, h)
	}
	n.advertisedLock.Unlock()

	for _, p := range n.membership.Peers() {
		a, err := p.UDPAddr()
		if err != nil {
			continue
		}
		for _, h := range hashes {
			if err := send(n.transferConn, protocol.Delete{Hash: h}, a); err != nil {
				logger.Sugar.Debugf("[Node] %v", err)
			}
		}
	}
}
