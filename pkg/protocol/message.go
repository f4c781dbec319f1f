package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownMessage = errors.New("unknown message type")
)

// Message tags as they appear on the wire.
const (
	TagDiscovery         = "DISCOVERY"
	TagDiscoveryResponse = "DISCOVERY_RESPONSE"
	TagDisconnect        = "DISCONNECT"
	TagFile              = "FILE"
	TagDelete            = "DELETE"
	TagRequestChunk      = "REQUEST_CHUNK"
)

// Message is one control datagram. The concrete types below are the only
// implementations.
type Message interface {
	Tag() string
	Encode() []byte
}

// Presence carries the fields shared by the membership messages.
type Presence struct {
	From   PeerAddress
	Secret string
}

func (p Presence) encode(tag string) []byte {
	return []byte(tag + ":" + p.From.IP + ":" + strconv.Itoa(p.From.Port) + ":" + p.Secret)
}

// Discovery is the periodic presence broadcast.
type Discovery struct{ Presence }

func (Discovery) Tag() string      { return TagDiscovery }
func (m Discovery) Encode() []byte { return m.encode(TagDiscovery) }

// DiscoveryResponse is the unicast reply to a Discovery.
type DiscoveryResponse struct{ Presence }

func (DiscoveryResponse) Tag() string      { return TagDiscoveryResponse }
func (m DiscoveryResponse) Encode() []byte { return m.encode(TagDiscoveryResponse) }

// Disconnect announces that a node is leaving.
type Disconnect struct{ Presence }

func (Disconnect) Tag() string      { return TagDisconnect }
func (m Disconnect) Encode() []byte { return m.encode(TagDisconnect) }

// FileAdvert advertises one locally shared file.
type FileAdvert struct {
	Secret string
	File   FileDescriptor
}

func (FileAdvert) Tag() string { return TagFile }
func (m FileAdvert) Encode() []byte {
	return []byte(TagFile + ":" + m.Secret + ":" + m.File.String())
}

// Delete withdraws a content hash from the catalog.
type Delete struct {
	Hash string
}

func (Delete) Tag() string      { return TagDelete }
func (m Delete) Encode() []byte { return []byte(TagDelete + ":" + m.Hash) }

// ChunkRequest asks a holder for one chunk of a file.
type ChunkRequest struct {
	Hash  string
	Index int
}

func (ChunkRequest) Tag() string { return TagRequestChunk }
func (m ChunkRequest) Encode() []byte {
	return []byte(TagRequestChunk + ":" + m.Hash + ":" + strconv.Itoa(m.Index))
}

// Parse decodes a control datagram into its message variant.
func Parse(data []byte) (Message, error) {
	parts := strings.Split(string(data), ":")
	switch parts[0] {
	case TagDiscovery, TagDiscoveryResponse, TagDisconnect:
		p, err := parsePresence(parts)
		if err != nil {
			return nil, err
		}
		switch parts[0] {
		case TagDiscovery:
			return Discovery{p}, nil
		case TagDiscoveryResponse:
			return DiscoveryResponse{p}, nil
		default:
			return Disconnect{p}, nil
		}
	case TagFile:
		return parseFileAdvert(parts)
	case TagDelete:
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("%w: %s needs 2 fields, got %d", ErrMalformed, TagDelete, len(parts))
		}
		return Delete{Hash: parts[1]}, nil
	case TagRequestChunk:
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: %s needs 3 fields, got %d", ErrMalformed, TagRequestChunk, len(parts))
		}
		index, err := strconv.Atoi(parts[2])
		if err != nil || index < 0 {
			return nil, fmt.Errorf("%w: bad chunk index %q", ErrMalformed, parts[2])
		}
		return ChunkRequest{Hash: parts[1], Index: index}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, parts[0])
	}
}

func parsePresence(parts []string) (Presence, error) {
	if len(parts) != 4 {
		return Presence{}, fmt.Errorf("%w: %s needs 4 fields, got %d", ErrMalformed, parts[0], len(parts))
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil || port <= 0 || port > 65535 {
		return Presence{}, fmt.Errorf("%w: bad port %q", ErrMalformed, parts[2])
	}
	return Presence{From: PeerAddress{IP: parts[1], Port: port}, Secret: parts[3]}, nil
}

// parseFileAdvert reads FILE:secret:name:size:ip:port:hash. The name may itself
// contain ':' so the last four fields are taken from the end.
func parseFileAdvert(parts []string) (Message, error) {
	if len(parts) < 7 {
		return nil, fmt.Errorf("%w: %s needs 7 fields, got %d", ErrMalformed, TagFile, len(parts))
	}
	n := len(parts)
	size, err := strconv.ParseInt(parts[n-4], 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: bad file size %q", ErrMalformed, parts[n-4])
	}
	port, err := strconv.Atoi(parts[n-2])
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: bad owner port %q", ErrMalformed, parts[n-2])
	}
	if parts[n-1] == "" {
		return nil, fmt.Errorf("%w: empty content hash", ErrMalformed)
	}
	return FileAdvert{
		Secret: parts[1],
		File: FileDescriptor{
			Name:      strings.Join(parts[2:n-4], ":"),
			Size:      size,
			OwnerIP:   parts[n-3],
			OwnerPort: port,
			Hash:      parts[n-1],
		},
	}, nil
}
