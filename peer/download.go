package peer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"lanshare/pkg/logger"
	"lanshare/pkg/monitor"
	"lanshare/pkg/protocol"
	"lanshare/pkg/storage"
)

type chunkFetcher func(ctx context.Context, holder protocol.PeerAddress, hash string, index, want int) ([]byte, error)

type chunkWriter interface {
	WriteChunk(index int, data []byte) error
}

// downloader drives one file to completion. Chunks are fetched one at a time,
// each attempt from a holder picked uniformly at random.
type downloader struct {
	file     protocol.FileDescriptor
	dest     chunkWriter
	holders  func() []protocol.PeerAddress
	fetch    chunkFetcher
	tracker  *DownloadTracker
	progress func(percent int)
	metrics  *monitor.Metrics
	idleWait time.Duration
	rng      *rand.Rand
}

func (d *downloader) run(ctx context.Context) error {
	total := protocol.ChunkCount(d.file.Size)
	if total == 0 {
		d.progress(100)
		return nil
	}
	done := make([]bool, total)
	completed := 0

	for completed < total {
		for i := 0; i < total; i++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if done[i] {
				continue
			}
			holders := d.holders()
			if len(holders) == 0 {
				// nobody holds the file right now, try again shortly
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d.idleWait):
				}
				continue
			}
			holder := holders[d.rng.IntN(len(holders))]

			d.tracker.StartChunk(i, holder.String())
			data, err := d.fetch(ctx, holder, d.file.Hash, i, protocol.ChunkLength(d.file.Size, i))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.tracker.FailChunk(i, err)
				d.metrics.ChunkFetches.WithLabelValues(fetchResult(err)).Inc()
				logger.Sugar.Debugf("[Download] %s chunk %d from %s: %v", d.file.Name, i, holder, err)
				continue
			}
			if err := d.dest.WriteChunk(i, data); err != nil {
				return err
			}
			done[i] = true
			completed++
			d.metrics.ChunkFetches.WithLabelValues(monitor.FetchOK).Inc()
			d.metrics.BytesDownloaded.Add(float64(len(data)))
			d.progress(d.tracker.CompleteChunk(i))
		}
	}
	return nil
}

func fetchResult(err error) string {
	switch {
	case errors.Is(err, ErrChunkTimeout):
		return monitor.FetchTimeout
	case errors.Is(err, ErrIncompleteChunk):
		return monitor.FetchIncomplete
	default:
		return monitor.FetchError
	}
}

// destinationName reduces an advertised name to a safe base name.
func destinationName(fd protocol.FileDescriptor) string {
	name := filepath.Base(filepath.Clean("/" + fd.Name))
	if name == "/" || name == "." || name == "" {
		return fd.Hash
	}
	return name
}

// Download fetches the catalogued file hash into the download folder and
// returns its path. Only one download per hash runs at a time, and the file
// appears under its final name only once every chunk has arrived.
func (n *Node) Download(ctx context.Context, hash string) (string, error) {
	fd, ok := n.catalog.Lookup(hash)
	if !ok || len(n.PeersWithFile(hash)) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownFile, hash)
	}
	path := filepath.Join(n.cfg.DownloadDir(), destinationName(fd))

	tracker := NewDownloadTracker(fd, path)
	if _, loaded := n.downloads.LoadOrStore(hash, tracker); loaded {
		return "", fmt.Errorf("%w: %s", ErrDownloadInProgress, fd.Name)
	}
	defer n.downloads.Delete(hash)

	dest, err := storage.OpenDestination(path, fd.Size)
	if err != nil {
		return "", err
	}

	logger.Sugar.Infof("[Download] starting %s (%s, %d bytes, %d chunks) -> %s",
		fd.Name, fd.Hash, fd.Size, protocol.ChunkCount(fd.Size), path)
	start := time.Now()

	d := &downloader{
		file:     fd,
		dest:     dest,
		holders:  func() []protocol.PeerAddress { return n.PeersWithFile(hash) },
		fetch:    n.fetchChunk,
		tracker:  tracker,
		progress: func(p int) { n.observer.DownloadProgress(fd.Name, p) },
		metrics:  n.metrics,
		idleWait: n.idleWait,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	if err := d.run(ctx); err != nil {
		// the partial file stays behind, hidden from the scanner
		return "", multierr.Append(fmt.Errorf("download %s: %w", fd.Name, err), dest.Close())
	}
	if err := dest.Commit(); err != nil {
		return "", err
	}
	tracker.MarkComplete()
	monitor.RecordTransfer(fd.Name, fd.Size, time.Since(start))
	return path, nil
}
