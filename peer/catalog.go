package peer

import (
	"sort"
	"sync"

	"lanshare/pkg/protocol"
)

// Catalog maps content hashes to the latest descriptor and the known holders.
// Both maps change together under one lock.
type Catalog struct {
	mu      sync.RWMutex
	files   map[string]protocol.FileDescriptor
	holders map[string][]protocol.PeerAddress
}

func NewCatalog() *Catalog {
	return &Catalog{
		files:   make(map[string]protocol.FileDescriptor),
		holders: make(map[string][]protocol.PeerAddress),
	}
}

// Upsert records fd as the latest metadata for its hash and adds holder to
// the hash's holders. It reports whether the hash was new.
func (c *Catalog) Upsert(fd protocol.FileDescriptor, holder protocol.PeerAddress) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, existed := c.files[fd.Hash]
	c.files[fd.Hash] = fd
	for _, h := range c.holders[fd.Hash] {
		if h == holder {
			return !existed
		}
	}
	c.holders[fd.Hash] = append(c.holders[fd.Hash], holder)
	return !existed
}

// Remove drops both entries for hash and reports whether any existed.
func (c *Catalog) Remove(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, hadFile := c.files[hash]
	_, hadHolders := c.holders[hash]
	delete(c.files, hash)
	delete(c.holders, hash)
	return hadFile || hadHolders
}

// PeersWithFile returns a copy of the holders of hash, empty if unknown.
func (c *Catalog) PeersWithFile(hash string) []protocol.PeerAddress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.PeerAddress(nil), c.holders[hash]...)
}

func (c *Catalog) Lookup(hash string) (protocol.FileDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fd, ok := c.files[hash]
	return fd, ok
}

// Files lists every known descriptor ordered by name, then hash.
func (c *Catalog) Files() []protocol.FileDescriptor {
	c.mu.RLock()
	out := make([]protocol.FileDescriptor, 0, len(c.files))
	for _, fd := range c.files {
		out = append(out, fd)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}
