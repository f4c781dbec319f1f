package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// HashReader returns the lowercase hex SHA-256 of everything r yields.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile streams the file at path through SHA-256.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	sum, err := HashReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return sum, nil
}

type cacheEntry struct {
	size    int64
	modTime time.Time
	sum     string
}

// HashCache memoizes HashFile per path. An entry is reused only while the
// file's size and modification time are unchanged, so results always match a
// fresh computation.
type HashCache struct {
	entries *xsync.Map[string, cacheEntry]
}

func NewHashCache() *HashCache {
	return &HashCache{entries: xsync.NewMap[string, cacheEntry]()}
}

// Hash returns the content hash of the file described by info at path.
func (c *HashCache) Hash(path string, info os.FileInfo) (string, error) {
	if c == nil {
		return HashFile(path)
	}
	if e, ok := c.entries.Load(path); ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.sum, nil
	}
	sum, err := HashFile(path)
	if err != nil {
		c.entries.Delete(path)
		return "", err
	}
	c.entries.Store(path, cacheEntry{size: info.Size(), modTime: info.ModTime(), sum: sum})
	return sum, nil
}

// Forget drops the cached entry for path.
func (c *HashCache) Forget(path string) {
	if c != nil {
		c.entries.Delete(path)
	}
}

// Retain drops every entry whose path is not in keep.
func (c *HashCache) Retain(keep map[string]struct{}) {
	if c == nil {
		return
	}
	c.entries.Range(func(path string, _ cacheEntry) bool {
		if _, ok := keep[path]; !ok {
			c.entries.Delete(path)
		}
		return true
	})
}

// Len is the number of cached entries.
func (c *HashCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Size()
}
