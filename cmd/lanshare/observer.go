package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"lanshare/peer"
	"lanshare/pkg/protocol"
)

var _ peer.Observer = (*consoleObserver)(nil)

// consoleObserver prints node events. Adverts repeat every catalog interval,
// so each hash is printed once until it is deleted.
type consoleObserver struct {
	mu   sync.Mutex
	out  io.Writer
	seen map[string]bool
	bars map[string]*progressbar.ProgressBar
}

func newConsoleObserver(out io.Writer) *consoleObserver {
	return &consoleObserver{
		out:  out,
		seen: make(map[string]bool),
		bars: make(map[string]*progressbar.ProgressBar),
	}
}

func (o *consoleObserver) PeerJoined(id protocol.PeerAddress) {
	fmt.Fprintf(o.out, "+ peer %s\n", id)
}

func (o *consoleObserver) PeerLeft(id protocol.PeerAddress) {
	fmt.Fprintf(o.out, "- peer %s\n", id)
}

func (o *consoleObserver) FileAdvertised(_ string, f protocol.FileDescriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen[f.Hash] {
		return
	}
	o.seen[f.Hash] = true
	fmt.Fprintf(o.out, "+ file %s (%s) from %s\n  %s\n", f.Name, humanize.Bytes(uint64(f.Size)), f.Owner(), f.Hash)
}

func (o *consoleObserver) FileDeleted(hash string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen[hash] {
		delete(o.seen, hash)
		fmt.Fprintf(o.out, "- file %s\n", hash)
	}
}

func (o *consoleObserver) DownloadProgress(name string, percent int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	bar, ok := o.bars[name]
	if !ok {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription(name),
			progressbar.OptionSetWriter(o.out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
		)
		o.bars[name] = bar
	}
	bar.Set(percent)
	if percent >= 100 {
		bar.Finish()
		fmt.Fprintln(o.out)
		delete(o.bars, name)
	}
}
