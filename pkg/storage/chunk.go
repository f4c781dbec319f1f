package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"lanshare/pkg/protocol"
)

// ReadChunk reads chunk index of the file at path. The final chunk of a file
// is short.
func ReadChunk(path string, index int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, protocol.ChunkSize)
	n, err := f.ReadAt(buf, int64(index)*protocol.ChunkSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read chunk %d of %s: %w", index, path, err)
	}
	return buf[:n], nil
}

// PartialSuffix marks a download still in progress. The scanner never
// shares such files.
const PartialSuffix = ".part"

// Destination is a download target written at chunk offsets. Data goes to
// path+PartialSuffix until Commit renames it into place.
type Destination struct {
	f    *os.File
	path string
}

// OpenDestination creates (or reuses) the partial file for path and sizes it
// to size bytes so chunks can land in any order.
func OpenDestination(path string, size int64) (*Destination, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create download directory: %w", err)
		}
	}
	f, err := os.OpenFile(path+PartialSuffix, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open destination: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size destination: %w", err)
	}
	return &Destination{f: f, path: path}, nil
}

// WriteChunk stores data at the offset of chunk index.
func (d *Destination) WriteChunk(index int, data []byte) error {
	if _, err := d.f.WriteAt(data, int64(index)*protocol.ChunkSize); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	return nil
}

// Path is where the file lands once committed.
func (d *Destination) Path() string        { return d.path }
func (d *Destination) PartialPath() string { return d.path + PartialSuffix }

// Close flushes and closes the partial file, leaving it in place.
func (d *Destination) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}

// Commit closes the partial file and renames it to Path.
func (d *Destination) Commit() error {
	if err := d.Close(); err != nil {
		return err
	}
	if err := os.Rename(d.PartialPath(), d.path); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", d.path, err)
	}
	return nil
}
