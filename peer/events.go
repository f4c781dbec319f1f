package peer

import "lanshare/pkg/protocol"

// Observer receives node events. Methods are called from the node's listener
// and download goroutines and must not block for long.
type Observer interface {
	// PeerJoined fires when a peer is first admitted.
	PeerJoined(id protocol.PeerAddress)
	// PeerLeft fires on every accepted DISCONNECT.
	PeerLeft(id protocol.PeerAddress)
	// FileAdvertised fires for each FILE message from another node. raw is the
	// message as received.
	FileAdvertised(raw string, file protocol.FileDescriptor)
	FileDeleted(hash string)
	// DownloadProgress reports whole-percent completion after every chunk.
	DownloadProgress(name string, percent int)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) PeerJoined(protocol.PeerAddress)                {}
func (NopObserver) PeerLeft(protocol.PeerAddress)                  {}
func (NopObserver) FileAdvertised(string, protocol.FileDescriptor) {}
func (NopObserver) FileDeleted(string)                             {}
func (NopObserver) DownloadProgress(string, int)                   {}
