package peer

import (
	"context"
	"net"

	"lanshare/pkg/logger"
	"lanshare/pkg/monitor"
	"lanshare/pkg/protocol"
)

func (n *Node) drop(reason string, src *net.UDPAddr, detail any) {
	n.metrics.DatagramsDropped.WithLabelValues(reason).Inc()
	logger.Sugar.Debugf("[Node] dropped datagram from %v: reason=%s %v", src, reason, detail)
}

// handleDiscoveryDatagram processes traffic on the well-known discovery port.
func (n *Node) handleDiscoveryDatagram(_ context.Context, data []byte, src *net.UDPAddr) {
	msg, err := protocol.Parse(data)
	if err != nil {
		n.drop(monitor.DropMalformed, src, err)
		return
	}
	switch m := msg.(type) {
	case protocol.Discovery:
		n.onPresence(m.Presence, src, true)
	case protocol.DiscoveryResponse:
		n.onPresence(m.Presence, src, false)
	case protocol.Disconnect:
		n.onDisconnect(m.Presence, src)
	default:
		n.drop(monitor.DropUnexpected, src, msg.Tag())
	}
}

// onPresence admits the sender of a DISCOVERY or DISCOVERY_RESPONSE. Only a
// DISCOVERY is answered.
func (n *Node) onPresence(p protocol.Presence, src *net.UDPAddr, reply bool) {
	if n.membership.IsSuppressed(p.From) {
		n.drop(monitor.DropSuppressed, src, p.From)
		return
	}
	if p.Secret != n.identity.Secret {
		n.drop(monitor.DropAuth, src, p.From)
		return
	}

	switch n.membership.Admit(p.From) {
	case Suppressed:
		// a DISCONNECT raced in between the check and the admission
		n.drop(monitor.DropSuppressed, src, p.From)
		return
	case Admitted:
		n.metrics.ConnectedPeers.Set(float64(n.membership.Len()))
		logger.Sugar.Infof("[Node] peer joined: %s", p.From)
		n.observer.PeerJoined(p.From)
	}

	if reply && src != nil {
		n.sendDiscoveryResponse(src.IP)
	}
}

func (n *Node) onDisconnect(p protocol.Presence, src *net.UDPAddr) {
	if p.Secret != n.identity.Secret {
		n.drop(monitor.DropAuth, src, p.From)
		return
	}
	n.membership.Leave(p.From)
	n.metrics.ConnectedPeers.Set(float64(n.membership.Len()))
	logger.Sugar.Infof("[Node] peer left: %s", p.From)
	n.observer.PeerLeft(p.From)
}

// handleTransferDatagram processes traffic on the node's own transfer socket.
func (n *Node) handleTransferDatagram(ctx context.Context, data []byte, src *net.UDPAddr) {
	msg, err := protocol.Parse(data)
	if err != nil {
		n.drop(monitor.DropMalformed, src, err)
		return
	}
	switch m := msg.(type) {
	case protocol.FileAdvert:
		n.onFileAdvert(m, string(data), src)
	case protocol.Delete:
		n.onDelete(m.Hash)
	case protocol.ChunkRequest:
		n.onChunkRequest(ctx, m, src)
	default:
		n.drop(monitor.DropUnexpected, src, msg.Tag())
	}
}

func (n *Node) onFileAdvert(m protocol.FileAdvert, raw string, src *net.UDPAddr) {
	if m.Secret != n.identity.Secret {
		n.drop(monitor.DropAuth, src, m.File.Hash)
		return
	}
	if n.catalog.Upsert(m.File, m.File.Owner()) {
		n.metrics.CatalogFiles.Set(float64(n.catalog.Len()))
		logger.Sugar.Debugf("[Node] learned file %s (%s) from %s", m.File.Name, m.File.Hash, m.File.Owner())
	}
	if m.File.Owner() == n.identity.PeerAddress() {
		return
	}
	n.observer.FileAdvertised(raw, m.File)
}

func (n *Node) onDelete(hash string) {
	n.catalog.Remove(hash)
	n.metrics.CatalogFiles.Set(float64(n.catalog.Len()))
	logger.Sugar.Debugf("[Node] file withdrawn: %s", hash)
	n.observer.FileDeleted(hash)
}
