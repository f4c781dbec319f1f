package peer

import (
	"sync"
	"time"

	"lanshare/pkg/protocol"
)

// ChunkState represents the current state of a chunk download
type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkDownloading
	ChunkCompleted
	ChunkFailed
)

func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkDownloading:
		return "downloading"
	case ChunkCompleted:
		return "completed"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChunkProgress tracks a single chunk
type ChunkProgress struct {
	Index    int
	State    ChunkState
	PeerAddr string
	Size     int
	Attempts int
	LastErr  error
}

// DownloadTracker tracks the progress of an entire file download. The
// orchestrator writes it, the CLI reads it.
type DownloadTracker struct {
	mu     sync.RWMutex
	file   protocol.FileDescriptor
	path   string
	chunks []ChunkProgress

	startTime       time.Time
	endTime         time.Time
	bytesDownloaded int64
	completed       int
	failures        int

	// Speed calculation
	lastBytes    int64
	lastTime     time.Time
	currentSpeed float64 // bytes/sec
}

func NewDownloadTracker(file protocol.FileDescriptor, path string) *DownloadTracker {
	n := protocol.ChunkCount(file.Size)
	chunks := make([]ChunkProgress, n)
	for i := range chunks {
		chunks[i] = ChunkProgress{Index: i, Size: protocol.ChunkLength(file.Size, i)}
	}
	now := time.Now()
	return &DownloadTracker{
		file:      file,
		path:      path,
		chunks:    chunks,
		startTime: now,
		lastTime:  now,
	}
}

// StartChunk marks a chunk as being fetched from peerAddr.
func (dt *DownloadTracker) StartChunk(index int, peerAddr string) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if index < 0 || index >= len(dt.chunks) {
		return
	}
	c := &dt.chunks[index]
	c.State = ChunkDownloading
	c.PeerAddr = peerAddr
	c.Attempts++
}

// CompleteChunk marks a chunk as written and returns the completion percent.
func (dt *DownloadTracker) CompleteChunk(index int) int {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if index >= 0 && index < len(dt.chunks) && dt.chunks[index].State != ChunkCompleted {
		c := &dt.chunks[index]
		c.State = ChunkCompleted
		c.LastErr = nil
		dt.bytesDownloaded += int64(c.Size)
		dt.completed++
	}
	return dt.percentLocked()
}

// FailChunk marks a chunk attempt as failed; it stays eligible for retry.
func (dt *DownloadTracker) FailChunk(index int, err error) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if index < 0 || index >= len(dt.chunks) {
		return
	}
	dt.chunks[index].State = ChunkFailed
	dt.chunks[index].LastErr = err
	dt.failures++
}

func (dt *DownloadTracker) percentLocked() int {
	if len(dt.chunks) == 0 {
		return 100
	}
	return dt.completed * 100 / len(dt.chunks)
}

// UpdateSpeed calculates and updates the current download speed
func (dt *DownloadTracker) UpdateSpeed() float64 {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(dt.lastTime).Seconds()

	if elapsed >= 0.5 { // Update every 0.5 seconds
		dt.currentSpeed = float64(dt.bytesDownloaded-dt.lastBytes) / elapsed
		dt.lastBytes = dt.bytesDownloaded
		dt.lastTime = now
	}
	return dt.currentSpeed
}

// MarkComplete stamps the end time.
func (dt *DownloadTracker) MarkComplete() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.endTime = time.Now()
}

// DownloadSnapshot is a point-in-time copy of a tracker.
type DownloadSnapshot struct {
	File            protocol.FileDescriptor
	Path            string
	TotalChunks     int
	Completed       int
	Downloading     int
	Failures        int
	Percent         int
	BytesDownloaded int64
	Speed           float64
	ETA             time.Duration
	Elapsed         time.Duration
}

func (dt *DownloadTracker) Snapshot() DownloadSnapshot {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	s := DownloadSnapshot{
		File:            dt.file,
		Path:            dt.path,
		TotalChunks:     len(dt.chunks),
		Completed:       dt.completed,
		Failures:        dt.failures,
		Percent:         dt.percentLocked(),
		BytesDownloaded: dt.bytesDownloaded,
		Speed:           dt.currentSpeed,
	}
	for _, c := range dt.chunks {
		if c.State == ChunkDownloading {
			s.Downloading++
		}
	}
	if remaining := dt.file.Size - dt.bytesDownloaded; dt.currentSpeed > 0 && remaining > 0 {
		s.ETA = time.Duration(float64(remaining)/dt.currentSpeed) * time.Second
	}
	if !dt.endTime.IsZero() {
		s.Elapsed = dt.endTime.Sub(dt.startTime)
	} else {
		s.Elapsed = time.Since(dt.startTime)
	}
	return s
}

// Chunk returns the progress of one chunk.
func (dt *DownloadTracker) Chunk(index int) (ChunkProgress, bool) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	if index < 0 || index >= len(dt.chunks) {
		return ChunkProgress{}, false
	}
	return dt.chunks[index], true
}
