package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"lanshare/pkg/logger"
	"lanshare/pkg/monitor"
	"lanshare/pkg/protocol"
	"lanshare/pkg/storage"
)

// onChunkRequest serves a REQUEST_CHUNK in the background. Requests beyond
// the concurrency bound are dropped and the requester times out.
func (n *Node) onChunkRequest(ctx context.Context, req protocol.ChunkRequest, src *net.UDPAddr) {
	if src == nil {
		return
	}
	if !n.serveSem.TryAcquire(1) {
		n.drop(monitor.DropBusy, src, req)
		return
	}
	n.serving.Add(1)
	go func() {
		defer n.serving.Done()
		defer n.serveSem.Release(1)
		if err := n.serveChunk(ctx, req, src); err != nil {
			if errors.Is(err, storage.ErrFileNotFound) {
				logger.Sugar.Debugf("[Node] not serving chunk %d of %s: %v", req.Index, req.Hash, err)
				return
			}
			logger.Sugar.Warnf("[Node] failed to serve chunk %d of %s to %s: %v", req.Index, req.Hash, src, err)
		}
	}()
}

// serveChunk sends one chunk of a shared file to dst as fragments. There is
// no acknowledgement and nothing is resent.
func (n *Node) serveChunk(ctx context.Context, req protocol.ChunkRequest, dst *net.UDPAddr) error {
	file, err := n.scanner.FindByHash(req.Hash)
	if err != nil {
		return err
	}
	data, err := storage.ReadChunk(file.Path, req.Index)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		logger.Sugar.Debugf("[Node] chunk %d is past the end of %s", req.Index, file.Name)
		return nil
	}

	frags := protocol.Split(req.Hash, req.Index, data, protocol.MaxFragmentPayload)
	for _, f := range frags {
		if n.limiter != nil {
			if err := n.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		b, err := f.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := n.transferConn.WriteTo(b, dst); err != nil {
			return fmt.Errorf("failed to send fragment %d/%d: %w", f.Index, f.Total, err)
		}
		n.metrics.FragmentsSent.Inc()
	}
	n.metrics.ChunksServed.Inc()
	logger.Sugar.Debugf("[Node] sent chunk %d of %s to %s in %d fragments", req.Index, file.Name, dst, len(frags))
	return nil
}

// fetchChunk requests chunk index of hash from holder over a fresh socket and
// waits up to the fetch timeout for every fragment. want is the expected
// chunk length.
func (n *Node) fetchChunk(ctx context.Context, holder protocol.PeerAddress, hash string, index, want int) ([]byte, error) {
	to, err := holder.UDPAddr()
	if err != nil {
		return nil, err
	}
	conn, err := n.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to open fetch socket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := send(conn, protocol.ChunkRequest{Hash: hash, Index: index}, to); err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(n.cfg.Transfer.FetchTimeout.Duration)); err != nil {
		return nil, err
	}

	asm := protocol.NewAssembly(hash, index)
	buf := make([]byte, protocol.MaxDatagramSize)
	for !asm.Complete() {
		size, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, fmt.Errorf("%w: chunk %d from %s (%d/%d fragments)", ErrChunkTimeout, index, holder, asm.Received(), asm.Total())
			}
			return nil, fmt.Errorf("failed to receive chunk %d: %w", index, err)
		}
		f, err := protocol.UnmarshalFragment(buf[:size])
		if err != nil {
			n.drop(monitor.DropMalformed, nil, err)
			continue
		}
		// cross-talk from earlier requests is filtered by Add
		asm.Add(f)
	}

	data := asm.Bytes()
	if len(data) != want {
		return nil, fmt.Errorf("%w: chunk %d is %d bytes, want %d", ErrIncompleteChunk, index, len(data), want)
	}
	return data, nil
}
