package peer

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"lanshare/pkg/monitor"
	"lanshare/pkg/protocol"
	"lanshare/pkg/storage"
	"lanshare/pkg/transport"
)

type memWriter struct {
	mu     sync.Mutex
	chunks map[int][]byte
}

func (w *memWriter) WriteChunk(index int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.chunks == nil {
		w.chunks = make(map[int][]byte)
	}
	w.chunks[index] = append([]byte(nil), data...)
	return nil
}

func (w *memWriter) bytes(total int) []byte {
	var out []byte
	for i := 0; i < total; i++ {
		out = append(out, w.chunks[i]...)
	}
	return out
}

func newTestDownloader(fd protocol.FileDescriptor, holders func() []protocol.PeerAddress, fetch chunkFetcher, progress *[]int) (*downloader, *memWriter) {
	w := &memWriter{}
	return &downloader{
		file:     fd,
		dest:     w,
		holders:  holders,
		fetch:    fetch,
		tracker:  NewDownloadTracker(fd, "mem"),
		progress: func(p int) { *progress = append(*progress, p) },
		metrics:  monitor.NewMetrics(),
		idleWait: time.Millisecond,
		rng:      rand.New(rand.NewPCG(1, 2)),
	}, w
}

func TestDownloaderRetriesUntilComplete(t *testing.T) {
	const size = 1200000
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i * 7)
	}
	fd := protocol.FileDescriptor{Name: "video.bin", Size: size, Hash: "h"}
	holders := []protocol.PeerAddress{{IP: "10.0.0.2", Port: 1}, {IP: "10.0.0.3", Port: 2}}

	attempts := map[int]int{}
	fetch := func(_ context.Context, _ protocol.PeerAddress, _ string, index, want int) ([]byte, error) {
		attempts[index]++
		switch attempts[index] {
		case 1:
			return nil, ErrChunkTimeout
		case 2:
			return nil, ErrIncompleteChunk
		}
		start := index * protocol.ChunkSize
		if want != protocol.ChunkLength(size, index) {
			t.Errorf("chunk %d: want=%d", index, want)
		}
		return content[start : start+want], nil
	}

	var progress []int
	d, w := newTestDownloader(fd, func() []protocol.PeerAddress { return holders }, fetch, &progress)
	if err := d.run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(w.bytes(3), content) {
		t.Error("assembled file differs")
	}
	if len(w.chunks[2]) != 176608 {
		t.Errorf("last chunk is %d bytes", len(w.chunks[2]))
	}
	if len(progress) != 3 || progress[2] != 100 {
		t.Errorf("progress = %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress went backwards: %v", progress)
		}
	}
	for i := 0; i < 3; i++ {
		if attempts[i] != 3 {
			t.Errorf("chunk %d took %d attempts", i, attempts[i])
		}
	}
	if got := testutil.ToFloat64(d.metrics.ChunkFetches.WithLabelValues(monitor.FetchTimeout)); got != 3 {
		t.Errorf("timeouts = %v", got)
	}
	if got := testutil.ToFloat64(d.metrics.ChunkFetches.WithLabelValues(monitor.FetchIncomplete)); got != 3 {
		t.Errorf("incomplete = %v", got)
	}
	snap := d.tracker.Snapshot()
	if snap.Percent != 100 || snap.Completed != 3 || snap.Failures != 6 || snap.BytesDownloaded != size {
		t.Errorf("snapshot = %+v", snap)
	}
	if c, _ := d.tracker.Chunk(0); c.Attempts != 3 || c.State != ChunkCompleted {
		t.Errorf("chunk 0 progress = %+v", c)
	}
}

func TestDownloaderWaitsForHolders(t *testing.T) {
	fd := protocol.FileDescriptor{Name: "a", Size: 10, Hash: "h"}
	calls := 0
	holders := func() []protocol.PeerAddress {
		calls++
		if calls < 3 {
			return nil
		}
		return []protocol.PeerAddress{{IP: "10.0.0.2", Port: 1}}
	}
	fetch := func(context.Context, protocol.PeerAddress, string, int, int) ([]byte, error) {
		return []byte("0123456789"), nil
	}
	var progress []int
	d, w := newTestDownloader(fd, holders, fetch, &progress)
	if err := d.run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if string(w.chunks[0]) != "0123456789" || calls != 3 {
		t.Errorf("chunk=%q holder calls=%d", w.chunks[0], calls)
	}
}

func TestDownloaderCancel(t *testing.T) {
	fd := protocol.FileDescriptor{Name: "a", Size: 10, Hash: "h"}
	fetch := func(context.Context, protocol.PeerAddress, string, int, int) ([]byte, error) {
		t.Error("fetch called without holders")
		return nil, nil
	}
	var progress []int
	d, _ := newTestDownloader(fd, func() []protocol.PeerAddress { return nil }, fetch, &progress)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("run = %v", err)
	}
}

func TestDownloaderEmptyFile(t *testing.T) {
	var progress []int
	d, _ := newTestDownloader(protocol.FileDescriptor{Name: "empty", Hash: "h"}, nil, nil, &progress)
	if err := d.run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(progress) != 1 || progress[0] != 100 {
		t.Errorf("progress = %v", progress)
	}
}

func TestNodeDownloadGuards(t *testing.T) {
	n, _, _ := newTestNode(t, testConfig(t), nil)
	ctx := context.Background()

	if _, err := n.Download(ctx, "missing"); !errors.Is(err, ErrUnknownFile) {
		t.Errorf("unknown hash: %v", err)
	}

	fd := descriptor("a.txt", "h1", "10.0.0.2", 4000)
	n.catalog.Upsert(fd, fd.Owner())
	n.downloads.Store("h1", NewDownloadTracker(fd, "x"))
	if _, err := n.Download(ctx, "h1"); !errors.Is(err, ErrDownloadInProgress) {
		t.Errorf("duplicate download: %v", err)
	}
	if len(n.Downloads()) != 1 {
		t.Error("in-flight download not listed")
	}
}

func TestDestinationName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":       "report.pdf",
		"../../etc/passwd": "passwd",
		"dir/sub/file.txt": "file.txt",
		"":                 "hash",
		"/":                "hash",
		"notes:2024.txt":   "notes:2024.txt",
	}
	for in, want := range tests {
		if got := destinationName(protocol.FileDescriptor{Name: in, Hash: "hash"}); got != want {
			t.Errorf("destinationName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInFlightDownloadNotAdvertised(t *testing.T) {
	cfg := testConfig(t)
	n, _, xfer := newTestNode(t, cfg, nil)
	shared := cfg.Node.SharedFolder

	donePath := filepath.Join(shared, "done.txt")
	if err := os.WriteFile(donePath, []byte("complete"), 0o644); err != nil {
		t.Fatal(err)
	}
	doneHash, _ := storage.HashFile(donePath)

	// the holder never answers, so the download stays in flight
	dialed := make(chan struct{})
	var once sync.Once
	n.dial = func() (transport.PacketConn, error) {
		once.Do(func() { close(dialed) })
		return newFakeConn(50000), nil
	}
	fd := descriptor("movie.mkv", strings.Repeat("a", 64), remote.IP, remote.Port)
	fd.Size = 1200000
	n.catalog.Upsert(fd, fd.Owner())
	n.membership.Admit(remote)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := n.Download(ctx, fd.Hash)
		result <- err
	}()
	select {
	case <-dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("download never requested a chunk")
	}

	n.advertiseCatalog()
	for _, m := range xfer.sentMessages(t) {
		adv, ok := m.(protocol.FileAdvert)
		if !ok {
			t.Fatalf("sent %T", m)
		}
		if adv.File.Hash != doneHash || adv.File.Name != "done.txt" {
			t.Errorf("advertised %s (%s) while it was downloading", adv.File.Name, adv.File.Hash)
		}
	}
	if len(xfer.Sent()) != 1 {
		t.Errorf("sent %d adverts, want 1", len(xfer.Sent()))
	}

	cancel()
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Download = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Download ignored cancellation")
	}

	final := filepath.Join(shared, "movie.mkv")
	if _, err := os.Stat(final); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("unfinished download appeared under its final name: %v", err)
	}
	if _, err := os.Stat(final + storage.PartialSuffix); err != nil {
		t.Errorf("partial file missing: %v", err)
	}

	n.advertisedLock.Lock()
	defer n.advertisedLock.Unlock()
	if _, ok := n.advertised[doneHash]; !ok || len(n.advertised) != 1 {
		t.Errorf("advertised set = %v", n.advertised)
	}
}
