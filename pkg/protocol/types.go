package protocol

import (
	"fmt"
	"net"
	"strconv"
)

// Wire constants shared by every node on the LAN.
const (
	// DefaultDiscoveryPort is the well-known UDP port for DISCOVERY traffic.
	DefaultDiscoveryPort = 5000
	// ChunkSize is the fixed window a file is partitioned into.
	ChunkSize = 512 * 1024
	// MaxPacketSize is the data budget of one fragment datagram.
	MaxPacketSize = 8192
	// FragmentHeaderBudget is the header allowance subtracted from MaxPacketSize:
	// a 64 byte hex hash plus four 32-bit integers.
	FragmentHeaderBudget = 64 + 4*4
	// MaxFragmentPayload is the number of chunk bytes carried by one fragment.
	MaxFragmentPayload = MaxPacketSize - FragmentHeaderBudget
	// MaxDatagramSize bounds any datagram a node reads.
	MaxDatagramSize = MaxPacketSize + 20
)

// PeerAddress is a remote endpoint, compared by value.
type PeerAddress struct {
	IP   string
	Port int
}

func (p PeerAddress) String() string {
	return p.IP + ":" + strconv.Itoa(p.Port)
}

// UDPAddr resolves the address for sending.
func (p PeerAddress) UDPAddr() (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(p.IP, strconv.Itoa(p.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve peer %s: %w", p, err)
	}
	return addr, nil
}

// FileDescriptor identifies a shared file. Hash is the lowercase hex SHA-256
// of the full content and is the only identity key.
type FileDescriptor struct {
	Name      string
	Size      int64
	OwnerIP   string
	OwnerPort int
	Hash      string
}

// Owner is the advertising node.
func (f FileDescriptor) Owner() PeerAddress {
	return PeerAddress{IP: f.OwnerIP, Port: f.OwnerPort}
}

// String renders the descriptor in its wire form name:size:ip:port:hash.
func (f FileDescriptor) String() string {
	return f.Name + ":" + strconv.FormatInt(f.Size, 10) + ":" + f.OwnerIP + ":" + strconv.Itoa(f.OwnerPort) + ":" + f.Hash
}

// ChunkCount is the number of chunks a file of size bytes is split into.
func ChunkCount(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}

// ChunkLength is the expected byte length of chunk index for a file of size bytes.
func ChunkLength(size int64, index int) int {
	offset := int64(index) * ChunkSize
	if index < 0 || offset >= size {
		return 0
	}
	if rest := size - offset; rest < ChunkSize {
		return int(rest)
	}
	return ChunkSize
}
