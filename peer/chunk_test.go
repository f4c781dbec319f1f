package peer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"lanshare/pkg/protocol"
	"lanshare/pkg/transport"
)

// fetchOver makes the node's next fetch socket conn, preloaded with frags
// sent from the remote holder.
func fetchOver(t *testing.T, n *Node, frags ...protocol.Fragment) *fakeConn {
	t.Helper()
	conn := newFakeConn(50000)
	from := udpAddr(remote.IP, remote.Port)
	for _, f := range frags {
		b, err := f.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		conn.in <- datagram{data: b, addr: from}
	}
	n.dial = func() (transport.PacketConn, error) { return conn, nil }
	return conn
}

func crossTalk(hash string) []protocol.Fragment {
	return []protocol.Fragment{
		{Hash: strings.Repeat("b", 64), ChunkIndex: 0, Index: 0, Total: 1, Data: []byte("other file")},
		{Hash: hash, ChunkIndex: 1, Index: 0, Total: 1, Data: []byte("other chunk")},
	}
}

func TestFetchChunkAssemblesIgnoringCrossTalk(t *testing.T) {
	n, _, _ := newTestNode(t, testConfig(t), nil)
	hash := strings.Repeat("a", 64)
	want := 2*protocol.MaxFragmentPayload + 10
	data := bytes.Repeat([]byte{0x5a, 0x01}, want/2)

	frags := append(crossTalk(hash), protocol.Split(hash, 0, data, protocol.MaxFragmentPayload)...)
	conn := fetchOver(t, n, frags...)

	got, err := n.fetchChunk(context.Background(), remote, hash, 0, want)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("fetched %d bytes, want the %d sent", len(got), len(data))
	}

	msgs := conn.sentMessages(t)
	if len(msgs) != 1 {
		t.Fatalf("sent %d requests", len(msgs))
	}
	if req, ok := msgs[0].(protocol.ChunkRequest); !ok || req.Hash != hash || req.Index != 0 {
		t.Errorf("request = %#v", msgs[0])
	}
	if to := conn.Sent()[0].addr.String(); to != remote.String() {
		t.Errorf("request sent to %s", to)
	}
}

func TestFetchChunkRejectsShortChunk(t *testing.T) {
	n, _, _ := newTestNode(t, testConfig(t), nil)
	hash := strings.Repeat("a", 64)
	want := 3 * protocol.MaxFragmentPayload
	short := bytes.Repeat([]byte{7}, want-100)

	frags := append(crossTalk(hash), protocol.Split(hash, 0, short, protocol.MaxFragmentPayload)...)
	fetchOver(t, n, frags...)

	got, err := n.fetchChunk(context.Background(), remote, hash, 0, want)
	if !errors.Is(err, ErrIncompleteChunk) {
		t.Fatalf("fetchChunk = %v, want ErrIncompleteChunk", err)
	}
	if got != nil {
		t.Errorf("short chunk returned %d bytes", len(got))
	}
}

func TestFetchChunkCancel(t *testing.T) {
	n, _, _ := newTestNode(t, testConfig(t), nil)
	fetchOver(t, n)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	if _, err := n.fetchChunk(ctx, remote, "h", 0, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("fetchChunk = %v", err)
	}
}
